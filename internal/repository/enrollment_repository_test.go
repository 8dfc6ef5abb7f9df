package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-records-api/internal/models"
)

const (
	testEnrollmentID      = "3f6c2a1e-8d4b-4c1a-9e2f-7a5b6c8d9e01"
	testOtherEnrollmentID = "3f6c2a1e-8d4b-4c1a-9e2f-7a5b6c8d9e02"
	testStudentID         = "b7e1d0c2-5a4f-4e3b-8c9d-0f1e2d3c4b5a"
	testCourseID          = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6d"
	testOtherCourseID     = "9a8b7c6d-5e4f-4a3b-9c2d-1e0f9a8b7c6e"
	testMissingID         = "00000000-0000-4000-8000-000000000000"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

var enrollmentRowColumns = []string{"id", "student_id", "course_id", "status", "assignment1", "assignment2", "coursework", "final_exam", "experience",
	"total_grade", "letter_grade", "is_rafaa_applied", "version", "enrolled_at", "created_at", "updated_at"}

func TestEnrollmentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow(testEnrollmentID, testStudentID, testCourseID, "ACTIVE", 18.0, 19.0, 27.0, 55.0, 9.0, 128.0, "Excellent", false, 3, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs(testEnrollmentID).
		WillReturnRows(rows)

	enrollment, err := repo.FindByID(context.Background(), testEnrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 128.0, enrollment.TotalGrade)
	assert.Equal(t, 55.0, enrollment.FinalExam)
	assert.Equal(t, 3, enrollment.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByCourseEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE course_id = $1")).
		WithArgs(testOtherCourseID).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns))

	enrollments, err := repo.ListByCourse(context.Background(), testOtherCourseID)
	require.NoError(t, err)
	assert.NotNil(t, enrollments)
	assert.Empty(t, enrollments)
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), testStudentID, testCourseID, models.EnrollmentStatusActive, 18.0, 19.0, 27.0, 55.0, 9.0,
			128.0, "Excellent", false, 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{
		StudentID:       testStudentID,
		CourseID:        testCourseID,
		GradeComponents: models.GradeComponents{Assignment1: 18, Assignment2: 19, Coursework: 27, FinalExam: 55, Experience: 9},
		TotalGrade:      128,
		LetterGrade:     "Excellent",
	}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.Equal(t, 1, enrollment.Version)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateBumpsVersion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $3")).
		WithArgs(testEnrollmentID, 2, models.EnrollmentStatusActive, 10.0, 10.0, 20.0, 40.0, 0.0, 80.0, "Very Good", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{
		ID:              testEnrollmentID,
		Status:          models.EnrollmentStatusActive,
		GradeComponents: models.GradeComponents{Assignment1: 10, Assignment2: 10, Coursework: 20, FinalExam: 40},
		TotalGrade:      80,
		LetterGrade:     "Very Good",
		IsRafaaApplied:  true,
	}
	require.NoError(t, repo.Update(context.Background(), enrollment, 2))
	assert.Equal(t, 3, enrollment.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStaleVersion(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET total_grade = $3")).
		WithArgs(testEnrollmentID, 1, 90.0, "Excellent", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE id = $1")).
		WithArgs(testEnrollmentID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	_, err := repo.UpdateGrades(context.Background(), testEnrollmentID, 90, "Excellent", 1)
	require.ErrorIs(t, err, ErrStaleVersion)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET total_grade = $3")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE id = $1")).
		WithArgs(testMissingID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	_, err := repo.UpdateGrades(context.Background(), testMissingID, 90, "Excellent", 1)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEnrollmentRepositoryDeleteRemovesAttendanceFirst(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendance_logs WHERE enrollment_id = $1")).
		WithArgs(testEnrollmentID).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1")).
		WithArgs(testEnrollmentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), testEnrollmentID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDeleteMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM attendance_logs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), testMissingID)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDetailToleratesOrphans(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	columns := append(append([]string{}, enrollmentRowColumns...), "student_name", "student_code", "student_section", "course_name", "course_type", "max_grade")
	rows := sqlmock.NewRows(columns).
		AddRow(testEnrollmentID, "ghost", testCourseID, "ACTIVE", 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, "Fail", false, 1, now, now, now, "", "", "", "Networks", "PRACTICAL", 150)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(s.full_name, '') AS student_name")).
		WithArgs(testCourseID).
		WillReturnRows(rows)

	details, err := repo.ListDetailsByCourse(context.Background(), testCourseID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "", details[0].StudentName)
	assert.Equal(t, "Networks", details[0].CourseName)
	assert.Equal(t, 150, details[0].MaxGrade)
}

func TestEnrollmentRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2")).
		WithArgs(testStudentID, testCourseID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}))

	exists, err := repo.Exists(context.Background(), testStudentID, testCourseID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEnrollmentRepositoryMalformedIDsAreAbsent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "7")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = repo.FindDetailByID(ctx, "7")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	byCourse, err := repo.ListByCourse(ctx, "7")
	require.NoError(t, err)
	assert.NotNil(t, byCourse)
	assert.Empty(t, byCourse)

	details, total, err := repo.ListDetails(ctx, models.EnrollmentFilter{StudentID: "me-too"})
	require.NoError(t, err)
	assert.Empty(t, details)
	assert.Zero(t, total)

	exists, err := repo.Exists(ctx, "7", testCourseID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, repo.Update(ctx, &models.Enrollment{ID: "7"}, 1), sql.ErrNoRows)
	_, err = repo.UpdateGrades(ctx, "7", 90, "Excellent", 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.ErrorIs(t, repo.Delete(ctx, "7"), sql.ErrNoRows)

	require.NoError(t, mock.ExpectationsWereMet())
}
