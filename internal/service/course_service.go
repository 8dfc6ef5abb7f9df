package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/repository"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	DeleteCascade(ctx context.Context, id string) (*models.CourseDeletion, error)
}

// courseCacheInvalidator also reaches transcripts, which embed course fields.
type courseCacheInvalidator interface {
	courseViewInvalidator
	InvalidateCourseRoster(ctx context.Context, courseID string)
}

type recomputeScheduler interface {
	ScheduleCourseRecompute(courseID string) error
}

// CourseRequest is the payload for creating or replacing a course.
type CourseRequest struct {
	Name         string  `json:"name" validate:"required,max=200"`
	Description  *string `json:"description"`
	Level        int     `json:"level" validate:"gte=0"`
	CreditHours  int     `json:"credit_hours" validate:"gte=0"`
	SemesterID   *string `json:"semester_id"`
	DepartmentID *string `json:"department_id"`
	MaxGrade     int     `json:"max_grade" validate:"required,oneof=100 150"`
	CourseType   string  `json:"course_type" validate:"required,course_type"`
}

// CourseService manages courses and their deletion cascade.
type CourseService struct {
	repo        courseRepository
	scheduler   recomputeScheduler
	invalidator courseCacheInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, scheduler recomputeScheduler, invalidator courseCacheInvalidator, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerDomainValidators(validate)
	return &CourseService{repo: repo, scheduler: scheduler, invalidator: invalidator, metrics: metrics, validator: validate, logger: logger}
}

// List returns courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, persistenceError(err, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a course by ID.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, persistenceError(err, "failed to load course")
	}
	return course, nil
}

// Create registers a new course.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course := &models.Course{}
	applyCourseRequest(course, req)
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, persistenceError(err, "failed to create course")
	}
	return course, nil
}

// Update replaces a course. Changing the course type or max grade schedules a
// recompute of every enrollment in the course.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previousType, previousMax := course.CourseType, course.MaxGrade
	applyCourseRequest(course, req)
	if err := s.repo.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, persistenceError(err, "failed to update course")
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateCourseRoster(ctx, id)
	}
	if course.CourseType != previousType || course.MaxGrade != previousMax {
		if s.scheduler == nil {
			s.logger.Warn("no recompute scheduler configured", zap.String("course_id", id))
		} else if err := s.scheduler.ScheduleCourseRecompute(id); err != nil {
			s.logger.Warn("failed to schedule course recompute", zap.String("course_id", id), zap.Error(err))
		}
	}
	return course, nil
}

// Delete removes a course together with its schedules, sections, enrollments
// and attendance logs. Either everything is removed or nothing is.
func (s *CourseService) Delete(ctx context.Context, id string) (*models.CourseDeletion, error) {
	// The roster is only reachable while the enrollments still exist.
	if s.invalidator != nil {
		s.invalidator.InvalidateCourseRoster(ctx, id)
	}
	summary, err := s.repo.DeleteCascade(ctx, id)
	if err != nil {
		var cascadeErr *repository.CascadeError
		if errors.As(err, &cascadeErr) {
			s.metrics.RecordCascadeDelete(string(cascadeErr.Stage))
			if cascadeErr.Stage == repository.CascadeStageCourse && errors.Is(cascadeErr.Err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			cascade := appErrors.Clone(appErrors.ErrCascadeDelete, "course deletion failed at stage "+string(cascadeErr.Stage))
			cascade.Err = err
			return nil, appErrors.WithDetail(cascade, "stage", string(cascadeErr.Stage))
		}
		return nil, persistenceError(err, "failed to delete course")
	}
	s.metrics.RecordCascadeDelete("committed")
	s.invalidate(ctx, id)
	return summary, nil
}

func (s *CourseService) invalidate(ctx context.Context, courseID string) {
	if s.invalidator != nil {
		s.invalidator.InvalidateCourse(ctx, courseID)
	}
}

func applyCourseRequest(course *models.Course, req CourseRequest) {
	courseType, _ := models.ParseCourseType(req.CourseType)
	course.Name = req.Name
	course.Description = req.Description
	course.Level = req.Level
	course.CreditHours = req.CreditHours
	course.SemesterID = req.SemesterID
	course.DepartmentID = req.DepartmentID
	course.MaxGrade = req.MaxGrade
	course.CourseType = courseType
}
