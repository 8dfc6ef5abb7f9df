package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-records-api/internal/middleware"
	"github.com/noah-isme/uni-records-api/internal/models"
	"github.com/noah-isme/uni-records-api/internal/service"
	appErrors "github.com/noah-isme/uni-records-api/pkg/errors"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newContext(method, target, body string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

type courseServiceMock struct {
	created   *service.CourseRequest
	deleteErr error
	getErr    error
}

func (m *courseServiceMock) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	return []models.Course{{ID: "c-1", CourseType: filter.CourseType}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *courseServiceMock) Get(ctx context.Context, id string) (*models.Course, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.Course{ID: id}, nil
}

func (m *courseServiceMock) Create(ctx context.Context, req service.CourseRequest) (*models.Course, error) {
	m.created = &req
	return &models.Course{ID: "c-new", Name: req.Name}, nil
}

func (m *courseServiceMock) Update(ctx context.Context, id string, req service.CourseRequest) (*models.Course, error) {
	return &models.Course{ID: id, Name: req.Name}, nil
}

func (m *courseServiceMock) Delete(ctx context.Context, id string) (*models.CourseDeletion, error) {
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &models.CourseDeletion{CourseID: id, Enrollments: 3}, nil
}

func TestCourseHandlerCreate(t *testing.T) {
	svc := &courseServiceMock{}
	h := NewCourseHandler(svc)

	c, w := newContext(http.MethodPost, "/courses", `{"name":"Optics","max_grade":100,"course_type":"PRACTICAL"}`)
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, 100, svc.created.MaxGrade)

	c, w = newContext(http.MethodPost, "/courses", `{"name":`)
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w).Error.Code)
}

func TestCourseHandlerListParsesFilters(t *testing.T) {
	h := NewCourseHandler(&courseServiceMock{})
	c, w := newContext(http.MethodGet, "/courses?type=practical&page=2&limit=5", "")
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"course_type":"PRACTICAL"`)
	assert.Contains(t, w.Body.String(), `"page":2`)
}

func TestCourseHandlerDeleteCascadeFailure(t *testing.T) {
	cascade := appErrors.WithDetail(appErrors.ErrCascadeDelete, "stage", "sections")
	h := NewCourseHandler(&courseServiceMock{deleteErr: cascade})

	c, w := newContext(http.MethodDelete, "/courses/c-1", "")
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	h.Delete(c)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)
	assert.Equal(t, "CASCADE_DELETE_FAILED", env.Error.Code)
	assert.Equal(t, "sections", env.Error.Details["stage"])

	h = NewCourseHandler(&courseServiceMock{})
	c, w = newContext(http.MethodDelete, "/courses/c-1", "")
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	h.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"enrollments":3`)
}

type enrollmentServiceMock struct {
	detail     *models.EnrollmentDetail
	filter     models.EnrollmentFilter
	updateErr  error
	gradesReq  *service.UpdateGradesRequest
	deletedIDs []string
}

func (m *enrollmentServiceMock) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.filter = filter
	return []models.EnrollmentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *enrollmentServiceMock) FindByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	return m.detail, nil
}

func (m *enrollmentServiceMock) Create(ctx context.Context, req service.CreateEnrollmentRequest) (*models.Enrollment, error) {
	return &models.Enrollment{ID: "enr-1", StudentID: req.StudentID, CourseID: req.CourseID}, nil
}

func (m *enrollmentServiceMock) Update(ctx context.Context, id string, req service.UpdateEnrollmentRequest) (*models.Enrollment, error) {
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &models.Enrollment{ID: id}, nil
}

func (m *enrollmentServiceMock) UpdateGrades(ctx context.Context, id string, req service.UpdateGradesRequest) (*models.Enrollment, error) {
	m.gradesReq = &req
	return &models.Enrollment{ID: id, Version: req.Version + 1}, nil
}

func (m *enrollmentServiceMock) Delete(ctx context.Context, id string) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *enrollmentServiceMock) Recompute(ctx context.Context, id string) (*models.Enrollment, error) {
	return &models.Enrollment{ID: id}, nil
}

func TestEnrollmentHandlerGetMissing(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})
	c, w := newContext(http.MethodGet, "/enrollments/x", "")
	c.Params = gin.Params{{Key: "id", Value: "x"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollmentHandlerListByCourse(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodGet, "/courses/c-1/enrollments?status=withdrawn", "")
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	h.ListByCourse(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", svc.filter.CourseID)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, svc.filter.Status)
	assert.Equal(t, "[]", string(decode(t, w).Data))

	c, w = newContext(http.MethodGet, "/enrollments?status=expelled", "")
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerUpdateConflict(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{updateErr: appErrors.Clone(appErrors.ErrConflict, "enrollment was modified concurrently")})
	c, w := newContext(http.MethodPut, "/enrollments/enr-1", `{"status":"ACTIVE","version":1}`)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	h.Update(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnrollmentHandlerUpdateGradesAndDelete(t *testing.T) {
	svc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(svc)

	c, w := newContext(http.MethodPatch, "/enrollments/enr-1/grades", `{"final_exam":90,"is_rafaa_applied":true,"version":2}`)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	h.UpdateGrades(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.gradesReq)
	assert.Equal(t, 90.0, svc.gradesReq.FinalExam)
	require.NotNil(t, svc.gradesReq.IsRafaaApplied)
	assert.True(t, *svc.gradesReq.IsRafaaApplied)

	c, _ = newContext(http.MethodDelete, "/enrollments/enr-1", "")
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	h.Delete(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, []string{"enr-1"}, svc.deletedIDs)
}

type attendanceServiceMock struct {
	batch   *service.BatchAttendanceRequest
	rawDate string
}

func (m *attendanceServiceMock) Record(ctx context.Context, enrollmentID string, req service.RecordAttendanceRequest) (*models.AttendanceLog, error) {
	return &models.AttendanceLog{EnrollmentID: enrollmentID, Status: models.AttendanceStatus(req.Status)}, nil
}

func (m *attendanceServiceMock) RecordBatch(ctx context.Context, courseID string, req service.BatchAttendanceRequest) (*models.AttendanceBatchResult, error) {
	m.batch = &req
	return &models.AttendanceBatchResult{Processed: len(req.Items), Succeeded: 1, Failed: len(req.Items) - 1}, nil
}

func (m *attendanceServiceMock) QueryByCourseAndDate(ctx context.Context, courseID, rawDate string) ([]models.CourseAttendanceRow, error) {
	m.rawDate = rawDate
	return []models.CourseAttendanceRow{}, nil
}

func (m *attendanceServiceMock) AggregateCounts(ctx context.Context, enrollmentID string) (*models.AttendanceCounts, error) {
	return &models.AttendanceCounts{Present: 3, Absent: 2, Total: 5}, nil
}

func (m *attendanceServiceMock) History(ctx context.Context, enrollmentID string) ([]models.AttendanceLog, error) {
	return []models.AttendanceLog{}, nil
}

func TestAttendanceHandlerCourseByDate(t *testing.T) {
	svc := &attendanceServiceMock{}
	h := NewAttendanceHandler(svc)

	c, w := newContext(http.MethodGet, "/courses/c-1/attendance", "")
	h.CourseByDate(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newContext(http.MethodGet, "/courses/c-1/attendance?date=2026-03-02", "")
	h.CourseByDate(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-03-02", svc.rawDate)
}

func TestAttendanceHandlerBatchAndSummary(t *testing.T) {
	svc := &attendanceServiceMock{}
	h := NewAttendanceHandler(svc)

	c, w := newContext(http.MethodPost, "/courses/c-1/attendance", `{"date":"2026-03-02","items":[{"enrollment_id":"a","status":"PRESENT"},{"enrollment_id":"b","status":"x"}]}`)
	h.RecordBatch(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.batch)
	assert.Len(t, svc.batch.Items, 2)
	assert.Contains(t, w.Body.String(), `"failed":1`)

	c, w = newContext(http.MethodGet, "/enrollments/a/attendance/summary", "")
	h.Summary(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":5`)
}

type evaluationServiceMock struct {
	cached    bool
	studentID string
}

func (m *evaluationServiceMock) CourseEvaluation(ctx context.Context, courseID string) (*models.CourseEvaluation, bool, error) {
	if courseID == "missing" {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return &models.CourseEvaluation{Course: models.Course{ID: courseID}}, m.cached, nil
}

func (m *evaluationServiceMock) StudentTranscript(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	m.studentID = studentID
	return []models.EnrollmentDetail{}, nil
}

type exportServiceMock struct {
	err error
}

func (m *exportServiceMock) CourseEvaluation(ctx context.Context, courseID string, format service.ExportFormat) (*service.ExportResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportResult{Filename: "evaluation_optics.csv", ContentType: format.ContentType(), Payload: []byte("Student\n")}, nil
}

func TestEvaluationHandlerCourseEvaluationCacheMeta(t *testing.T) {
	h := NewEvaluationHandler(&evaluationServiceMock{cached: true}, &exportServiceMock{})

	c, w := newContext(http.MethodGet, "/courses/c-1/evaluation", "")
	c.Params = gin.Params{{Key: "id", Value: "c-1"}}
	h.CourseEvaluation(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, true, decode(t, w).Meta["cache_hit"])

	c, w = newContext(http.MethodGet, "/courses/missing/evaluation", "")
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.CourseEvaluation(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluationHandlerExport(t *testing.T) {
	h := NewEvaluationHandler(&evaluationServiceMock{}, &exportServiceMock{})
	c, w := newContext(http.MethodGet, "/courses/c-1/evaluation/export", "")
	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "evaluation_optics.csv")

	h = NewEvaluationHandler(&evaluationServiceMock{}, &exportServiceMock{err: errors.New("render")})
	c, w = newContext(http.MethodGet, "/courses/c-1/evaluation/export?format=pdf", "")
	h.Export(c)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestEvaluationHandlerStudentEnrollmentsResolvesMe(t *testing.T) {
	svc := &evaluationServiceMock{}
	h := NewEvaluationHandler(svc, &exportServiceMock{})

	c, w := newContext(http.MethodGet, "/students/me/enrollments", "")
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-7", Role: models.RoleStudent})
	c.Params = gin.Params{{Key: "id", Value: "me"}}
	h.StudentEnrollments(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-7", svc.studentID)
}

func TestMetricsHandlerReady(t *testing.T) {
	healthy := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
	})
	c, w := newContext(http.MethodGet, "/ready", "")
	healthy.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	degraded := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})
	c, w = newContext(http.MethodGet, "/ready", "")
	degraded.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	c, w = newContext(http.MethodGet, "/metrics", "")
	degraded.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
