package models

import (
	"strings"
	"time"
)

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// ParseAttendanceStatus normalises free text into an AttendanceStatus.
func ParseAttendanceStatus(raw string) (AttendanceStatus, bool) {
	s := AttendanceStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// AttendanceLog is a single per-day attendance entry for an enrollment.
type AttendanceLog struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	Date         time.Time        `db:"date" json:"date"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// CourseAttendanceRow is an attendance log with the owning student for roll-call screens.
type CourseAttendanceRow struct {
	AttendanceLog
	StudentID string `db:"student_id" json:"student_id"`
}

// AttendanceCounts summarises attendance for one enrollment.
type AttendanceCounts struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Excused int `json:"excused"`
	Total   int `json:"total"`
}

// Add folds count occurrences of status into the summary.
func (c *AttendanceCounts) Add(status AttendanceStatus, count int) {
	switch status {
	case AttendanceStatusPresent:
		c.Present += count
	case AttendanceStatusAbsent:
		c.Absent += count
	case AttendanceStatusLate:
		c.Late += count
	case AttendanceStatusExcused:
		c.Excused += count
	default:
		return
	}
	c.Total += count
}

// AttendanceItemResult reports the outcome of one row of a batch submission.
type AttendanceItemResult struct {
	EnrollmentID string `json:"enrollment_id"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// AttendanceBatchResult summarises a batch submission.
type AttendanceBatchResult struct {
	Processed int                    `json:"processed"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Items     []AttendanceItemResult `json:"items"`
}
