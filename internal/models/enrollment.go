package models

import (
	"strings"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Valid returns true when the status is a supported value.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusActive, EnrollmentStatusWithdrawn, EnrollmentStatusCompleted:
		return true
	default:
		return false
	}
}

// ParseEnrollmentStatus normalises free text into an EnrollmentStatus.
func ParseEnrollmentStatus(raw string) (EnrollmentStatus, bool) {
	s := EnrollmentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// GradeComponents holds the raw component scores of an enrollment.
type GradeComponents struct {
	Assignment1 float64 `db:"assignment1" json:"assignment1"`
	Assignment2 float64 `db:"assignment2" json:"assignment2"`
	Coursework  float64 `db:"coursework" json:"coursework"`
	FinalExam   float64 `db:"final_exam" json:"final_exam"`
	Experience  float64 `db:"experience" json:"experience"`
}

// Enrollment captures a student's registration in a course with its grades.
type Enrollment struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	CourseID  string           `db:"course_id" json:"course_id"`
	Status    EnrollmentStatus `db:"status" json:"status"`
	GradeComponents
	TotalGrade     float64   `db:"total_grade" json:"total_grade"`
	LetterGrade    string    `db:"letter_grade" json:"letter_grade"`
	IsRafaaApplied bool      `db:"is_rafaa_applied" json:"is_rafaa_applied"`
	Version        int       `db:"version" json:"version"`
	EnrolledAt     time.Time `db:"enrolled_at" json:"enrolled_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course display fields.
// Display fields are empty when the referenced row no longer exists.
type EnrollmentDetail struct {
	Enrollment
	StudentName    string `db:"student_name" json:"student_name"`
	StudentCode    string `db:"student_code" json:"student_code"`
	StudentSection string `db:"student_section" json:"student_section"`
	CourseName     string `db:"course_name" json:"course_name"`
	CourseType     string `db:"course_type" json:"course_type"`
	MaxGrade       int    `db:"max_grade" json:"max_grade"`
}

// EnrollmentFilter provides filters for listing enrollment details.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// EnrollmentEvaluation pairs an enrollment with its attendance counters.
type EnrollmentEvaluation struct {
	EnrollmentDetail
	Attendance AttendanceCounts `json:"attendance"`
}

// CourseEvaluation is the professor evaluation view for a course.
type CourseEvaluation struct {
	Course      Course                 `json:"course"`
	Enrollments []EnrollmentEvaluation `json:"enrollments"`
}
