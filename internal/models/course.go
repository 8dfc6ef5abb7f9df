package models

import (
	"strings"
	"time"
)

// CourseType decides which grade components count toward the total.
type CourseType string

// Supported course types.
const (
	CourseTypeTheoretical CourseType = "THEORETICAL"
	CourseTypePractical   CourseType = "PRACTICAL"
)

// Valid returns true when the course type is supported.
func (t CourseType) Valid() bool {
	switch t {
	case CourseTypeTheoretical, CourseTypePractical:
		return true
	default:
		return false
	}
}

// ParseCourseType normalises free text into a CourseType.
func ParseCourseType(raw string) (CourseType, bool) {
	t := CourseType(strings.ToUpper(strings.TrimSpace(raw)))
	return t, t.Valid()
}

// Supported maximum grade scales.
const (
	MaxGrade100 = 100
	MaxGrade150 = 150
)

// Course is an academic course owning enrollments, sections and schedules.
type Course struct {
	ID           string     `db:"id" json:"id"`
	Name         string     `db:"name" json:"name"`
	Description  *string    `db:"description" json:"description,omitempty"`
	Level        int        `db:"level" json:"level"`
	CreditHours  int        `db:"credit_hours" json:"credit_hours"`
	SemesterID   *string    `db:"semester_id" json:"semester_id,omitempty"`
	DepartmentID *string    `db:"department_id" json:"department_id,omitempty"`
	MaxGrade     int        `db:"max_grade" json:"max_grade"`
	CourseType   CourseType `db:"course_type" json:"course_type"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// CourseFilter captures supported filters for listing courses.
type CourseFilter struct {
	DepartmentID string
	SemesterID   string
	CourseType   CourseType
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// CourseDeletion reports how many dependant rows a course deletion removed.
type CourseDeletion struct {
	CourseID       string `json:"course_id"`
	Schedules      int64  `json:"schedules"`
	Sections       int64  `json:"sections"`
	AttendanceLogs int64  `json:"attendance_logs"`
	Enrollments    int64  `json:"enrollments"`
}
