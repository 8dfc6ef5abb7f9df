package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-records-api/internal/models"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type evaluationEnrollmentReader interface {
	ListDetailsByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
	ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error)
}

type attendanceCounter interface {
	CountsByCourse(ctx context.Context, courseID string) (map[string]models.AttendanceCounts, error)
}

// EvaluationService assembles the read-only views professors and students see.
type EvaluationService struct {
	courses     courseReader
	enrollments evaluationEnrollmentReader
	attendance  attendanceCounter
	cache       *CacheService
	ttl         time.Duration
	logger      *zap.Logger
}

// NewEvaluationService constructs an EvaluationService. A nil cache disables caching.
func NewEvaluationService(courses courseReader, enrollments evaluationEnrollmentReader, attendance attendanceCounter, cache *CacheService, ttl time.Duration, logger *zap.Logger) *EvaluationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationService{courses: courses, enrollments: enrollments, attendance: attendance, cache: cache, ttl: ttl, logger: logger}
}

// CourseEvaluation returns every enrollment of a course with display fields and
// attendance counters. The boolean reports whether the view came from cache.
func (s *EvaluationService) CourseEvaluation(ctx context.Context, courseID string) (*models.CourseEvaluation, bool, error) {
	key := courseEvaluationKey(courseID)
	var cached models.CourseEvaluation
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, false, persistenceError(err, "failed to load course")
	}
	details, err := s.enrollments.ListDetailsByCourse(ctx, courseID)
	if err != nil {
		return nil, false, persistenceError(err, "failed to load course enrollments")
	}
	counts, err := s.attendance.CountsByCourse(ctx, courseID)
	if err != nil {
		return nil, false, persistenceError(err, "failed to aggregate course attendance")
	}

	view := &models.CourseEvaluation{Course: *course, Enrollments: make([]models.EnrollmentEvaluation, 0, len(details))}
	for _, detail := range details {
		view.Enrollments = append(view.Enrollments, models.EnrollmentEvaluation{
			EnrollmentDetail: detail,
			Attendance:       counts[detail.ID],
		})
	}
	if err := s.cache.Set(ctx, key, view, s.ttl); err != nil {
		s.logger.Warn("cache course evaluation", zap.String("course_id", courseID), zap.Error(err))
	}
	return view, false, nil
}

// StudentTranscript lists a student's enrollments with course display fields.
func (s *EvaluationService) StudentTranscript(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	key := studentTranscriptKey(studentID)
	var cached []models.EnrollmentDetail
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	details, err := s.enrollments.ListDetailsByStudent(ctx, studentID)
	if err != nil {
		return nil, persistenceError(err, "failed to load student enrollments")
	}
	if err := s.cache.Set(ctx, key, details, s.ttl); err != nil {
		s.logger.Warn("cache student transcript", zap.String("student_id", studentID), zap.Error(err))
	}
	return details, nil
}

// InvalidateCourse drops the cached evaluation view of a course and the
// transcripts of the given students.
func (s *EvaluationService) InvalidateCourse(ctx context.Context, courseID string, studentIDs ...string) {
	keys := make([]string, 0, len(studentIDs)+1)
	keys = append(keys, courseEvaluationKey(courseID))
	for _, studentID := range studentIDs {
		if studentID != "" {
			keys = append(keys, studentTranscriptKey(studentID))
		}
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("invalidate course evaluation", zap.String("course_id", courseID), zap.Error(err))
	}
}

// InvalidateCourseRoster drops the evaluation view of a course together with
// the transcripts of every student currently enrolled in it. Used when course
// fields shown on transcripts change.
func (s *EvaluationService) InvalidateCourseRoster(ctx context.Context, courseID string) {
	if !s.cache.Enabled() {
		return
	}
	details, err := s.enrollments.ListDetailsByCourse(ctx, courseID)
	if err != nil {
		s.logger.Warn("load course roster for invalidation", zap.String("course_id", courseID), zap.Error(err))
	}
	studentIDs := make([]string, 0, len(details))
	for _, detail := range details {
		studentIDs = append(studentIDs, detail.StudentID)
	}
	s.InvalidateCourse(ctx, courseID, studentIDs...)
}

func courseEvaluationKey(courseID string) string {
	return "evaluation:course:" + courseID
}

func studentTranscriptKey(studentID string) string {
	return "evaluation:student:" + studentID
}
