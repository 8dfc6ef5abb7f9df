package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-records-api/internal/grading"
	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/repository"
)

func newTestPolicy(t *testing.T) *grading.Policy {
	t.Helper()
	policy, err := grading.NewPolicy(grading.DefaultWeights(), []grading.Band{
		{LowerBound: 0.85, Label: "Excellent"},
		{LowerBound: 0.75, Label: "Very Good"},
		{LowerBound: 0.60, Label: "Good"},
		{LowerBound: 0.50, Label: "Pass"},
	}, "Fail")
	require.NoError(t, err)
	return policy
}

type fakeStudentDirectory map[string]bool

func (f fakeStudentDirectory) Exists(ctx context.Context, id string) (bool, error) {
	return f[id], nil
}

var knownStudents = fakeStudentDirectory{"stu-1": true, "stu-2": true}

type fakeCourseRepo struct {
	courses   map[string]models.Course
	cascade   func(id string) (*models.CourseDeletion, error)
	updateErr error
}

func newFakeCourseRepo(courses ...models.Course) *fakeCourseRepo {
	repo := &fakeCourseRepo{courses: make(map[string]models.Course)}
	for _, c := range courses {
		repo.courses[c.ID] = c
	}
	return repo
}

func (f *fakeCourseRepo) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	out := []models.Course{}
	for _, c := range f.courses {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (f *fakeCourseRepo) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &c, nil
}

func (f *fakeCourseRepo) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = "course-new"
	}
	f.courses[course.ID] = *course
	return nil
}

func (f *fakeCourseRepo) Update(ctx context.Context, course *models.Course) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	f.courses[course.ID] = *course
	return nil
}

func (f *fakeCourseRepo) DeleteCascade(ctx context.Context, id string) (*models.CourseDeletion, error) {
	if f.cascade != nil {
		return f.cascade(id)
	}
	if _, ok := f.courses[id]; !ok {
		return nil, &repository.CascadeError{Stage: repository.CascadeStageCourse, Err: sql.ErrNoRows}
	}
	delete(f.courses, id)
	return &models.CourseDeletion{CourseID: id}, nil
}

// fakeEnrollmentRepo mimics the versioned writes of the SQL repository.
type fakeEnrollmentRepo struct {
	mu          sync.Mutex
	enrollments map[string]models.Enrollment
	students    map[string]string
	createErr   error
	gradeWrites int
	nextID      int
}

func newFakeEnrollmentRepo(enrollments ...models.Enrollment) *fakeEnrollmentRepo {
	repo := &fakeEnrollmentRepo{enrollments: make(map[string]models.Enrollment), students: make(map[string]string)}
	for _, e := range enrollments {
		repo.enrollments[e.ID] = e
	}
	return repo
}

func (f *fakeEnrollmentRepo) detail(e models.Enrollment) models.EnrollmentDetail {
	return models.EnrollmentDetail{Enrollment: e, StudentName: f.students[e.StudentID]}
}

func (f *fakeEnrollmentRepo) sorted(match func(models.Enrollment) bool) []models.Enrollment {
	out := []models.Enrollment{}
	for _, e := range f.enrollments {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeEnrollmentRepo) ListDetails(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	details := []models.EnrollmentDetail{}
	for _, e := range f.sorted(func(e models.Enrollment) bool {
		return (filter.CourseID == "" || e.CourseID == filter.CourseID) && (filter.StudentID == "" || e.StudentID == filter.StudentID)
	}) {
		details = append(details, f.detail(e))
	}
	return details, len(details), nil
}

func (f *fakeEnrollmentRepo) ListDetailsByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	details, _, err := f.ListDetails(ctx, models.EnrollmentFilter{CourseID: courseID})
	return details, err
}

func (f *fakeEnrollmentRepo) ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	details, _, err := f.ListDetails(ctx, models.EnrollmentFilter{StudentID: studentID})
	return details, err
}

func (f *fakeEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f *fakeEnrollmentRepo) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := f.detail(e)
	return &detail, nil
}

func (f *fakeEnrollmentRepo) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(e models.Enrollment) bool { return e.StudentID == studentID }), nil
}

func (f *fakeEnrollmentRepo) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(e models.Enrollment) bool { return e.CourseID == courseID }), nil
}

func (f *fakeEnrollmentRepo) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if enrollment.ID == "" {
		f.nextID++
		enrollment.ID = fmt.Sprintf("enr-new-%d", f.nextID)
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	now := time.Now().UTC()
	enrollment.CreatedAt, enrollment.UpdatedAt = now, now
	enrollment.Version = 1
	f.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (f *fakeEnrollmentRepo) Update(ctx context.Context, enrollment *models.Enrollment, expectedVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.enrollments[enrollment.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if current.Version != expectedVersion {
		return repository.ErrStaleVersion
	}
	enrollment.Version = expectedVersion + 1
	f.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (f *fakeEnrollmentRepo) UpdateGrades(ctx context.Context, id string, total float64, letter string, expectedVersion int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.enrollments[id]
	if !ok {
		return 0, sql.ErrNoRows
	}
	if current.Version != expectedVersion {
		return 0, repository.ErrStaleVersion
	}
	current.TotalGrade = total
	current.LetterGrade = letter
	current.Version++
	f.enrollments[id] = current
	f.gradeWrites++
	return current.Version, nil
}

func (f *fakeEnrollmentRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.enrollments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.enrollments, id)
	return nil
}

// bump simulates a concurrent writer.
func (f *fakeEnrollmentRepo) bump(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.enrollments[id]
	e.Version++
	f.enrollments[id] = e
}

type attendanceKey struct {
	enrollmentID string
	date         string
}

type fakeAttendanceRepo struct {
	logs        map[attendanceKey]models.AttendanceLog
	enrollments *fakeEnrollmentRepo
	failFor     map[string]error
}

func newFakeAttendanceRepo(enrollments *fakeEnrollmentRepo) *fakeAttendanceRepo {
	return &fakeAttendanceRepo{logs: make(map[attendanceKey]models.AttendanceLog), enrollments: enrollments, failFor: map[string]error{}}
}

func (f *fakeAttendanceRepo) Upsert(ctx context.Context, record *models.AttendanceLog) (*models.AttendanceLog, error) {
	if err := f.failFor[record.EnrollmentID]; err != nil {
		return nil, err
	}
	key := attendanceKey{record.EnrollmentID, record.Date.Format(dateLayout)}
	if existing, ok := f.logs[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else if record.ID == "" {
		record.ID = "log-" + key.enrollmentID + "-" + key.date
	}
	stored := *record
	f.logs[key] = stored
	return &stored, nil
}

func (f *fakeAttendanceRepo) ListByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]models.CourseAttendanceRow, error) {
	rows := []models.CourseAttendanceRow{}
	for key, log := range f.logs {
		e, ok := f.enrollments.enrollments[key.enrollmentID]
		if ok && e.CourseID == courseID && key.date == date.Format(dateLayout) {
			rows = append(rows, models.CourseAttendanceRow{AttendanceLog: log, StudentID: e.StudentID})
		}
	}
	return rows, nil
}

func (f *fakeAttendanceRepo) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceLog, error) {
	logs := []models.AttendanceLog{}
	for key, log := range f.logs {
		if key.enrollmentID == enrollmentID {
			logs = append(logs, log)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Date.After(logs[j].Date) })
	return logs, nil
}

func (f *fakeAttendanceRepo) CountsByEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceCounts, error) {
	counts := &models.AttendanceCounts{}
	for key, log := range f.logs {
		if key.enrollmentID == enrollmentID {
			counts.Add(log.Status, 1)
		}
	}
	return counts, nil
}

func (f *fakeAttendanceRepo) CountsByCourse(ctx context.Context, courseID string) (map[string]models.AttendanceCounts, error) {
	result := map[string]models.AttendanceCounts{}
	for key, log := range f.logs {
		e, ok := f.enrollments.enrollments[key.enrollmentID]
		if !ok || e.CourseID != courseID {
			continue
		}
		counts := result[key.enrollmentID]
		counts.Add(log.Status, 1)
		result[key.enrollmentID] = counts
	}
	return result, nil
}

type recordingInvalidator struct {
	courses  []string
	students []string
	rosters  []string
}

func (r *recordingInvalidator) InvalidateCourse(ctx context.Context, courseID string, studentIDs ...string) {
	r.courses = append(r.courses, courseID)
	r.students = append(r.students, studentIDs...)
}

func (r *recordingInvalidator) InvalidateCourseRoster(ctx context.Context, courseID string) {
	r.rosters = append(r.rosters, courseID)
}

type stubScheduler struct {
	scheduled []string
}

func (s *stubScheduler) ScheduleCourseRecompute(courseID string) error {
	s.scheduled = append(s.scheduled, courseID)
	return nil
}

var (
	practicalCourse   = models.Course{ID: "course-lab", Name: "Circuits Lab", MaxGrade: 150, CourseType: models.CourseTypePractical}
	theoreticalCourse = models.Course{ID: "course-theory", Name: "Signals", MaxGrade: 150, CourseType: models.CourseTypeTheoretical}
)
