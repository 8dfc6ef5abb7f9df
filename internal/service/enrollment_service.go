package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/internal/grading"
	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/repository"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type enrollmentRepository interface {
	ListDetails(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Update(ctx context.Context, enrollment *models.Enrollment, expectedVersion int) error
	UpdateGrades(ctx context.Context, id string, total float64, letter string, expectedVersion int) (int, error)
	Delete(ctx context.Context, id string) error
}

type studentDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// courseViewInvalidator drops cached read models derived from a course and,
// when named, the transcripts of affected students.
type courseViewInvalidator interface {
	InvalidateCourse(ctx context.Context, courseID string, studentIDs ...string)
}

// GradeInput carries the five raw component scores of a write request.
type GradeInput struct {
	Assignment1 float64 `json:"assignment1" validate:"gte=0"`
	Assignment2 float64 `json:"assignment2" validate:"gte=0"`
	Coursework  float64 `json:"coursework" validate:"gte=0"`
	FinalExam   float64 `json:"final_exam" validate:"gte=0"`
	Experience  float64 `json:"experience" validate:"gte=0"`
}

func (g GradeInput) components() models.GradeComponents {
	return models.GradeComponents{
		Assignment1: g.Assignment1,
		Assignment2: g.Assignment2,
		Coursework:  g.Coursework,
		FinalExam:   g.FinalExam,
		Experience:  g.Experience,
	}
}

// CreateEnrollmentRequest describes enrollment creation.
type CreateEnrollmentRequest struct {
	StudentID      string     `json:"student_id" validate:"required"`
	CourseID       string     `json:"course_id" validate:"required"`
	Status         string     `json:"status" validate:"omitempty,enrollment_status"`
	IsRafaaApplied bool       `json:"is_rafaa_applied"`
	EnrolledAt     *time.Time `json:"enrolled_at"`
	GradeInput
}

// UpdateEnrollmentRequest replaces every mutable field of an enrollment.
// Version must echo the version the caller last read.
type UpdateEnrollmentRequest struct {
	Status         string `json:"status" validate:"required,enrollment_status"`
	IsRafaaApplied bool   `json:"is_rafaa_applied"`
	Version        int    `json:"version" validate:"gte=0"`
	GradeInput
}

// UpdateGradesRequest edits component scores while keeping the enrollment status.
type UpdateGradesRequest struct {
	IsRafaaApplied *bool `json:"is_rafaa_applied"`
	Version        int   `json:"version" validate:"gte=0"`
	GradeInput
}

// EnrollmentConfig tunes write semantics.
type EnrollmentConfig struct {
	// RequireVersion rejects writes that omit the version; otherwise a zero
	// version means last write wins.
	RequireVersion bool
}

// EnrollmentService owns enrollment records and keeps their derived grades in
// step with the grade policy.
type EnrollmentService struct {
	repo        enrollmentRepository
	courses     courseReader
	students    studentDirectory
	policy      *grading.Policy
	invalidator courseViewInvalidator
	metrics     *MetricsService
	cfg         EnrollmentConfig
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, students studentDirectory, policy *grading.Policy, invalidator courseViewInvalidator, metrics *MetricsService, cfg EnrollmentConfig, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	registerDomainValidators(validate)
	return &EnrollmentService{
		repo:        repo,
		courses:     courses,
		students:    students,
		policy:      policy,
		invalidator: invalidator,
		metrics:     metrics,
		cfg:         cfg,
		validator:   validate,
		logger:      logger,
	}
}

// List returns enrollment details with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	details, total, err := s.repo.ListDetails(ctx, filter)
	if err != nil {
		return nil, nil, persistenceError(err, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return details, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// FindByID returns the enrollment detail, or nil when it does not exist.
func (s *EnrollmentService) FindByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, persistenceError(err, "failed to load enrollment")
	}
	return detail, nil
}

// ListByStudent returns every enrollment of a student; empty when none.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	enrollments, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, persistenceError(err, "failed to list student enrollments")
	}
	return enrollments, nil
}

// ListByCourse returns every enrollment of a course; empty when none.
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, persistenceError(err, "failed to list course enrollments")
	}
	return enrollments, nil
}

// Create registers a student in a course with initial grades.
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	status := models.EnrollmentStatusActive
	if req.Status != "" {
		status, _ = models.ParseEnrollmentStatus(req.Status)
	}
	course, err := s.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.checkStudent(ctx, req.StudentID); err != nil {
		return nil, err
	}
	scores := req.GradeInput.components()
	if err := s.checkComponentRange(scores, course); err != nil {
		return nil, err
	}
	exists, err := s.repo.Exists(ctx, req.StudentID, req.CourseID)
	if err != nil {
		return nil, persistenceError(err, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in course")
	}

	result := s.policy.Compute(scores, course.CourseType, course.MaxGrade, req.IsRafaaApplied)
	enrollment := &models.Enrollment{
		StudentID:       req.StudentID,
		CourseID:        req.CourseID,
		Status:          status,
		GradeComponents: scores,
		TotalGrade:      result.TotalGrade,
		LetterGrade:     result.LetterGrade,
		IsRafaaApplied:  result.RafaaApplied,
	}
	if req.EnrolledAt != nil {
		enrollment.EnrolledAt = req.EnrolledAt.UTC()
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "student already enrolled in course")
		}
		return nil, persistenceError(err, "failed to create enrollment")
	}
	s.invalidate(ctx, enrollment)
	return enrollment, nil
}

// Update replaces the status, component scores and rafaa flag of an enrollment,
// recomputing its total and letter grade.
func (s *EnrollmentService) Update(ctx context.Context, id string, req UpdateEnrollmentRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid enrollment payload")
	}
	status, _ := models.ParseEnrollmentStatus(req.Status)
	return s.write(ctx, id, req.Version, func(e *models.Enrollment) {
		e.Status = status
		e.GradeComponents = req.GradeInput.components()
		e.IsRafaaApplied = req.IsRafaaApplied
	})
}

// UpdateGrades replaces the component scores of an enrollment and recomputes
// its grade in the same write.
func (s *EnrollmentService) UpdateGrades(ctx context.Context, id string, req UpdateGradesRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid grades payload")
	}
	return s.write(ctx, id, req.Version, func(e *models.Enrollment) {
		e.GradeComponents = req.GradeInput.components()
		if req.IsRafaaApplied != nil {
			e.IsRafaaApplied = *req.IsRafaaApplied
		}
	})
}

func (s *EnrollmentService) write(ctx context.Context, id string, version int, apply func(*models.Enrollment)) (*models.Enrollment, error) {
	if version == 0 && s.cfg.RequireVersion {
		return nil, appErrors.Clone(appErrors.ErrValidation, "version is required")
	}
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, persistenceError(err, "failed to load enrollment")
	}
	if version == 0 {
		version = enrollment.Version
	}
	if version != enrollment.Version {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment was modified concurrently")
	}
	course, err := s.loadCourse(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	apply(enrollment)
	if err := s.checkComponentRange(enrollment.GradeComponents, course); err != nil {
		return nil, err
	}
	result := s.policy.Compute(enrollment.GradeComponents, course.CourseType, course.MaxGrade, enrollment.IsRafaaApplied)
	enrollment.TotalGrade = result.TotalGrade
	enrollment.LetterGrade = result.LetterGrade
	if err := s.repo.Update(ctx, enrollment, version); err != nil {
		return nil, versionedWriteError(err, "failed to update enrollment")
	}
	s.invalidate(ctx, enrollment)
	return enrollment, nil
}

// Delete removes an enrollment and its attendance history.
func (s *EnrollmentService) Delete(ctx context.Context, id string) error {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return persistenceError(err, "failed to load enrollment")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return persistenceError(err, "failed to delete enrollment")
	}
	s.invalidate(ctx, enrollment)
	return nil
}

// Recompute reapplies the grade policy to an enrollment's stored components.
// Nothing is written when the stored total and letter already match.
func (s *EnrollmentService) Recompute(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, persistenceError(err, "failed to load enrollment")
	}
	course, err := s.loadCourse(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if _, err := s.recompute(ctx, enrollment, course); err != nil {
		return nil, err
	}
	return enrollment, nil
}

// RecomputeCourse recomputes every enrollment of a course and returns how many
// records changed. Enrollments that lost a version race are reported as a
// conflict after the rest of the course has been processed. Enrollments whose
// stored components exceed a lowered max grade are still recomputed and are
// logged for review.
func (s *EnrollmentService) RecomputeCourse(ctx context.Context, courseID string) (int, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}
	enrollments, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return 0, persistenceError(err, "failed to list course enrollments")
	}
	updated := 0
	conflicts := 0
	var outOfRange []string
	for i := range enrollments {
		if s.checkComponentRange(enrollments[i].GradeComponents, course) != nil {
			outOfRange = append(outOfRange, enrollments[i].ID)
		}
		changed, err := s.recompute(ctx, &enrollments[i], course)
		if err != nil {
			if errors.Is(err, appErrors.ErrConflict) || errors.Is(err, appErrors.ErrNotFound) {
				conflicts++
				continue
			}
			return updated, err
		}
		if changed {
			updated++
		}
	}
	if len(outOfRange) > 0 {
		s.logger.Warn("enrollment components exceed course max grade",
			zap.String("course_id", courseID),
			zap.Int("max_grade", course.MaxGrade),
			zap.Strings("enrollment_ids", outOfRange),
		)
	}
	if conflicts > 0 {
		return updated, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%d enrollments changed during recompute", conflicts))
	}
	return updated, nil
}

func (s *EnrollmentService) recompute(ctx context.Context, enrollment *models.Enrollment, course *models.Course) (bool, error) {
	result := s.policy.Compute(enrollment.GradeComponents, course.CourseType, course.MaxGrade, enrollment.IsRafaaApplied)
	if result.TotalGrade == enrollment.TotalGrade && result.LetterGrade == enrollment.LetterGrade {
		s.metrics.RecordRecompute(false)
		return false, nil
	}
	version, err := s.repo.UpdateGrades(ctx, enrollment.ID, result.TotalGrade, result.LetterGrade, enrollment.Version)
	if err != nil {
		return false, versionedWriteError(err, "failed to store recomputed grade")
	}
	enrollment.TotalGrade = result.TotalGrade
	enrollment.LetterGrade = result.LetterGrade
	enrollment.Version = version
	s.metrics.RecordRecompute(true)
	s.invalidate(ctx, enrollment)
	return true, nil
}

func (s *EnrollmentService) loadCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, http.StatusUnprocessableEntity, "course does not exist")
		}
		return nil, persistenceError(err, "failed to load course")
	}
	return course, nil
}

func (s *EnrollmentService) checkStudent(ctx context.Context, studentID string) error {
	found, err := s.students.Exists(ctx, studentID)
	if err != nil {
		return persistenceError(err, "failed to load student")
	}
	if !found {
		return appErrors.New(appErrors.ErrPersistence.Code, http.StatusUnprocessableEntity, "student does not exist")
	}
	return nil
}

func (s *EnrollmentService) invalidate(ctx context.Context, enrollment *models.Enrollment) {
	if s.invalidator != nil {
		s.invalidator.InvalidateCourse(ctx, enrollment.CourseID, enrollment.StudentID)
	}
}

// checkComponentRange rejects counted scores above the course's maximum grade.
// Components the course type ignores are stored as given.
func (s *EnrollmentService) checkComponentRange(scores models.GradeComponents, course *models.Course) error {
	limit := float64(course.MaxGrade)
	for _, component := range grading.Components {
		if !s.policy.Includes(course.CourseType, component) {
			continue
		}
		if grading.Score(scores, component) > limit {
			return appErrors.WithDetail(
				appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s exceeds max grade %d", component, course.MaxGrade)),
				"field", string(component),
			)
		}
	}
	return nil
}
