package service

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-records-api/internal/models"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func newEvaluationFixture(cache *CacheService) (*EvaluationService, *fakeEnrollmentRepo, *fakeAttendanceRepo) {
	enrollments := newFakeEnrollmentRepo(
		models.Enrollment{ID: "enr-1", StudentID: "stu-1", CourseID: practicalCourse.ID, Status: models.EnrollmentStatusActive, TotalGrade: 128, LetterGrade: "Excellent"},
		models.Enrollment{ID: "enr-2", StudentID: "stu-gone", CourseID: practicalCourse.ID, Status: models.EnrollmentStatusActive},
	)
	enrollments.students["stu-1"] = "Layla Hassan"
	attendance := newFakeAttendanceRepo(enrollments)
	svc := NewEvaluationService(newFakeCourseRepo(practicalCourse), enrollments, attendance, cache, time.Minute, nil)
	return svc, enrollments, attendance
}

func TestEvaluationServiceCourseEvaluationWithoutCache(t *testing.T) {
	svc, _, attendance := newEvaluationFixture(nil)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err := attendance.Upsert(ctx, &models.AttendanceLog{EnrollmentID: "enr-1", Date: day, Status: models.AttendanceStatusPresent})
	require.NoError(t, err)

	view, cached, err := svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "Circuits Lab", view.Course.Name)
	require.Len(t, view.Enrollments, 2)
	assert.Equal(t, "Layla Hassan", view.Enrollments[0].StudentName)
	assert.Equal(t, 1, view.Enrollments[0].Attendance.Present)
	assert.Equal(t, "", view.Enrollments[1].StudentName)
	assert.Equal(t, models.AttendanceCounts{}, view.Enrollments[1].Attendance)
}

func TestEvaluationServiceCachesUntilInvalidated(t *testing.T) {
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCacheRepo(), metrics, time.Minute, nil, true)
	svc, enrollments, _ := newEvaluationFixture(cache)
	ctx := context.Background()

	_, cached, err := svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)
	assert.False(t, cached)

	enrollments.students["stu-1"] = "Layla H."
	view, cached, err := svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "Layla Hassan", view.Enrollments[0].StudentName)

	svc.InvalidateCourse(ctx, practicalCourse.ID)
	view, cached, err = svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "Layla H.", view.Enrollments[0].StudentName)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(2), snapshot.CacheMisses)
}

func TestEvaluationServiceUnknownCourse(t *testing.T) {
	svc, _, _ := newEvaluationFixture(nil)

	_, _, err := svc.CourseEvaluation(context.Background(), "ghost")
	requireAppError(t, err, "NOT_FOUND", http.StatusNotFound)
}

func TestEvaluationServiceStudentTranscript(t *testing.T) {
	svc, _, _ := newEvaluationFixture(nil)

	details, err := svc.StudentTranscript(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Excellent", details[0].LetterGrade)

	none, err := svc.StudentTranscript(context.Background(), "stu-unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEvaluationServiceTranscriptInvalidationIsScopedToStudents(t *testing.T) {
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc, enrollments, _ := newEvaluationFixture(cache)
	ctx := context.Background()

	_, err := svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)

	changed := enrollments.enrollments["enr-1"]
	changed.LetterGrade = "Good"
	enrollments.enrollments["enr-1"] = changed

	// An attendance-style invalidation names no students and leaves transcripts alone.
	svc.InvalidateCourse(ctx, practicalCourse.ID)
	details, err := svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "Excellent", details[0].LetterGrade)

	svc.InvalidateCourse(ctx, practicalCourse.ID, "stu-other")
	details, err = svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "Excellent", details[0].LetterGrade)

	svc.InvalidateCourse(ctx, practicalCourse.ID, "stu-1")
	details, err = svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "Good", details[0].LetterGrade)
}

func TestEvaluationServiceRosterInvalidationReachesEnrolledStudents(t *testing.T) {
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc, enrollments, _ := newEvaluationFixture(cache)
	ctx := context.Background()

	_, err := svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)
	_, _, err = svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)

	changed := enrollments.enrollments["enr-1"]
	changed.LetterGrade = "Pass"
	enrollments.enrollments["enr-1"] = changed

	svc.InvalidateCourseRoster(ctx, practicalCourse.ID)
	details, err := svc.StudentTranscript(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "Pass", details[0].LetterGrade)
	_, cached, err := svc.CourseEvaluation(ctx, practicalCourse.ID)
	require.NoError(t, err)
	assert.False(t, cached)
}
