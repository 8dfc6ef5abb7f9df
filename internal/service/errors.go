package service

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/repository"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

const dateLayout = "2006-01-02"

// persistenceError maps a store failure onto PERSISTENCE_ERROR. Foreign key
// violations are reported as 422 since they stem from the caller's references.
func persistenceError(err error, message string) *appErrors.Error {
	status := appErrors.ErrPersistence.Status
	if repository.IsForeignKeyViolation(err) {
		status = http.StatusUnprocessableEntity
	}
	return appErrors.Wrap(err, appErrors.ErrPersistence.Code, status, message)
}

// versionedWriteError translates the outcome of a compare-and-swap write.
func versionedWriteError(err error, message string) *appErrors.Error {
	switch {
	case errors.Is(err, repository.ErrStaleVersion):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "enrollment was modified concurrently")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment not found")
	case repository.IsUniqueViolation(err):
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student already enrolled in course")
	default:
		return persistenceError(err, message)
	}
}

func validationError(err error, message string) *appErrors.Error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func parseDate(raw string) (time.Time, error) {
	date, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	return date, nil
}

// registerDomainValidators installs the enum tags used by request payloads.
func registerDomainValidators(v *validator.Validate) {
	_ = v.RegisterValidation("enrollment_status", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseEnrollmentStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("course_type", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseCourseType(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		_, ok := models.ParseAttendanceStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("calendar_date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(dateLayout, strings.TrimSpace(fl.Field().String()))
		return err == nil
	})
}
