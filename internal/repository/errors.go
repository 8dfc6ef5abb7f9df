package repository

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrStaleVersion is returned when an optimistic concurrency check fails.
var ErrStaleVersion = errors.New("stale version")

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// IsForeignKeyViolation reports whether err is a Postgres foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return pqCode(err) == pqForeignKeyViolation
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

// isUUID reports whether id can match a UUID key column. Anything else can
// never match a row, so callers treat it as absent instead of letting
// Postgres reject the cast.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// CascadeStage names a step of the course deletion cascade.
type CascadeStage string

// Cascade stages in execution order.
const (
	CascadeStageBegin          CascadeStage = "begin"
	CascadeStageSchedules      CascadeStage = "schedules"
	CascadeStageSections       CascadeStage = "sections"
	CascadeStageAttendanceLogs CascadeStage = "attendance_logs"
	CascadeStageEnrollments    CascadeStage = "enrollments"
	CascadeStageCourse         CascadeStage = "course"
	CascadeStageCommit         CascadeStage = "commit"
)

// CascadeError reports the stage at which a course deletion was aborted.
// Nothing from the cascade is visible when it is returned.
type CascadeError struct {
	Stage CascadeStage
	Err   error
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("course cascade delete failed at %s: %v", e.Stage, e.Err)
}

func (e *CascadeError) Unwrap() error {
	return e.Err
}
