package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/internal/models"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, record *models.AttendanceLog) (*models.AttendanceLog, error)
	ListByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]models.CourseAttendanceRow, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceLog, error)
	CountsByEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceCounts, error)
}

type attendanceEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// RecordAttendanceRequest marks one enrollment for one day.
type RecordAttendanceRequest struct {
	Date   string  `json:"date" validate:"required,calendar_date"`
	Status string  `json:"status" validate:"required,attendance_status"`
	Notes  *string `json:"notes"`
}

// BatchAttendanceItem is one row of a roll-call submission.
type BatchAttendanceItem struct {
	EnrollmentID string  `json:"enrollment_id"`
	Status       string  `json:"status"`
	Notes        *string `json:"notes"`
}

// BatchAttendanceRequest records a course's roll-call for one day.
type BatchAttendanceRequest struct {
	Date  string                `json:"date" validate:"required,calendar_date"`
	Items []BatchAttendanceItem `json:"items" validate:"required,min=1"`
}

// AttendanceService records per-day attendance and aggregates it per enrollment.
type AttendanceService struct {
	repo        attendanceRepository
	enrollments attendanceEnrollmentReader
	courses     courseReader
	invalidator courseViewInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, enrollments attendanceEnrollmentReader, courses courseReader, invalidator courseViewInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerDomainValidators(validate)
	return &AttendanceService{
		repo:        repo,
		enrollments: enrollments,
		courses:     courses,
		invalidator: invalidator,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Record stores the attendance of an enrollment on a date, replacing any
// earlier entry for the same day.
func (s *AttendanceService) Record(ctx context.Context, enrollmentID string, req RecordAttendanceRequest) (*models.AttendanceLog, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	status, _ := models.ParseAttendanceStatus(req.Status)
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, persistenceError(err, "failed to load enrollment")
	}
	stored, err := s.repo.Upsert(ctx, &models.AttendanceLog{EnrollmentID: enrollmentID, Date: date, Status: status, Notes: req.Notes})
	if err != nil {
		s.metrics.RecordAttendanceWrites(0, 1)
		return nil, persistenceError(err, "failed to record attendance")
	}
	s.metrics.RecordAttendanceWrites(1, 0)
	s.invalidate(ctx, enrollment.CourseID)
	return stored, nil
}

// RecordBatch upserts each row independently. Rows naming an enrollment outside
// the course, repeating an enrollment, or carrying an unknown status fail on
// their own without affecting the rest.
func (s *AttendanceService) RecordBatch(ctx context.Context, courseID string, req BatchAttendanceRequest) (*models.AttendanceBatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, persistenceError(err, "failed to load course")
	}
	enrollments, err := s.enrollments.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, persistenceError(err, "failed to list course enrollments")
	}
	members := make(map[string]struct{}, len(enrollments))
	for _, enrollment := range enrollments {
		members[enrollment.ID] = struct{}{}
	}

	result := &models.AttendanceBatchResult{Items: make([]models.AttendanceItemResult, 0, len(req.Items))}
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		outcome := models.AttendanceItemResult{EnrollmentID: item.EnrollmentID}
		status, ok := models.ParseAttendanceStatus(item.Status)
		_, member := members[item.EnrollmentID]
		_, duplicate := seen[item.EnrollmentID]
		switch {
		case item.EnrollmentID == "":
			outcome.Error = "enrollment_id is required"
		case duplicate:
			outcome.Error = "duplicate enrollment in payload"
		case !ok:
			outcome.Error = "invalid attendance status"
		case !member:
			outcome.Error = "enrollment does not belong to course"
		default:
			if _, err := s.repo.Upsert(ctx, &models.AttendanceLog{EnrollmentID: item.EnrollmentID, Date: date, Status: status, Notes: item.Notes}); err != nil {
				s.logger.Warn("attendance row failed", zap.String("enrollment_id", item.EnrollmentID), zap.Error(err))
				outcome.Error = "failed to record attendance"
			} else {
				outcome.Success = true
			}
		}
		if item.EnrollmentID != "" {
			seen[item.EnrollmentID] = struct{}{}
		}
		if outcome.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Items = append(result.Items, outcome)
	}
	result.Processed = len(req.Items)
	s.metrics.RecordAttendanceWrites(result.Succeeded, result.Failed)
	if result.Succeeded > 0 {
		s.invalidate(ctx, courseID)
	}
	return result, nil
}

// QueryByCourseAndDate returns the attendance logs of a course's enrollments on a date.
func (s *AttendanceService) QueryByCourseAndDate(ctx context.Context, courseID, rawDate string) ([]models.CourseAttendanceRow, error) {
	date, err := parseDate(rawDate)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByCourseAndDate(ctx, courseID, date)
	if err != nil {
		return nil, persistenceError(err, "failed to load course attendance")
	}
	return rows, nil
}

// AggregateCounts summarises an enrollment's attendance; all zero when it has none.
func (s *AttendanceService) AggregateCounts(ctx context.Context, enrollmentID string) (*models.AttendanceCounts, error) {
	counts, err := s.repo.CountsByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, persistenceError(err, "failed to aggregate attendance")
	}
	return counts, nil
}

// History lists an enrollment's attendance, newest first.
func (s *AttendanceService) History(ctx context.Context, enrollmentID string) ([]models.AttendanceLog, error) {
	logs, err := s.repo.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, persistenceError(err, "failed to load attendance history")
	}
	return logs, nil
}

func (s *AttendanceService) invalidate(ctx context.Context, courseID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateCourse(ctx, courseID)
	}
}
