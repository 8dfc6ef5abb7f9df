package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-records-api/internal/models"
)

// AttendanceRepository handles persistence for attendance logs.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Upsert inserts the log for (enrollment, date) or replaces the existing one.
func (r *AttendanceRepository) Upsert(ctx context.Context, record *models.AttendanceLog) (*models.AttendanceLog, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	query := `INSERT INTO attendance_logs (id, enrollment_id, date, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (enrollment_id, date)
DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING id, enrollment_id, date, status, notes, created_at, updated_at`
	var stored models.AttendanceLog
	if err := r.db.GetContext(ctx, &stored, query, record.ID, record.EnrollmentID, record.Date, record.Status, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance log: %w", err)
	}
	return &stored, nil
}

// ListByCourseAndDate returns logs of the course's enrollments on a date.
func (r *AttendanceRepository) ListByCourseAndDate(ctx context.Context, courseID string, date time.Time) ([]models.CourseAttendanceRow, error) {
	query := `SELECT a.id, a.enrollment_id, a.date, a.status, a.notes, a.created_at, a.updated_at, e.student_id
FROM attendance_logs a
JOIN enrollments e ON e.id = a.enrollment_id
WHERE e.course_id = $1 AND a.date = $2
ORDER BY e.student_id`
	rows := []models.CourseAttendanceRow{}
	if !isUUID(courseID) {
		return rows, nil
	}
	if err := r.db.SelectContext(ctx, &rows, query, courseID, date); err != nil {
		return nil, fmt.Errorf("list course attendance: %w", err)
	}
	return rows, nil
}

// ListByEnrollment returns the attendance history of one enrollment, newest first.
func (r *AttendanceRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.AttendanceLog, error) {
	query := `SELECT id, enrollment_id, date, status, notes, created_at, updated_at
FROM attendance_logs
WHERE enrollment_id = $1
ORDER BY date DESC`
	logs := []models.AttendanceLog{}
	if !isUUID(enrollmentID) {
		return logs, nil
	}
	if err := r.db.SelectContext(ctx, &logs, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment attendance: %w", err)
	}
	return logs, nil
}

// CountsByEnrollment aggregates the logs of a single enrollment.
func (r *AttendanceRepository) CountsByEnrollment(ctx context.Context, enrollmentID string) (*models.AttendanceCounts, error) {
	if !isUUID(enrollmentID) {
		return &models.AttendanceCounts{}, nil
	}
	query := `SELECT status, COUNT(*) AS cnt
FROM attendance_logs
WHERE enrollment_id = $1
GROUP BY status`
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("attendance counts: %w", err)
	}
	counts := &models.AttendanceCounts{}
	for _, row := range rows {
		counts.Add(models.AttendanceStatus(row.Status), row.Count)
	}
	return counts, nil
}

// CountsByCourse aggregates logs per enrollment for every enrollment of a course.
func (r *AttendanceRepository) CountsByCourse(ctx context.Context, courseID string) (map[string]models.AttendanceCounts, error) {
	if !isUUID(courseID) {
		return map[string]models.AttendanceCounts{}, nil
	}
	query := `SELECT a.enrollment_id, a.status, COUNT(*) AS cnt
FROM attendance_logs a
JOIN enrollments e ON e.id = a.enrollment_id
WHERE e.course_id = $1
GROUP BY a.enrollment_id, a.status`
	rows := []struct {
		EnrollmentID string `db:"enrollment_id"`
		Status       string `db:"status"`
		Count        int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("course attendance counts: %w", err)
	}
	result := make(map[string]models.AttendanceCounts)
	for _, row := range rows {
		counts := result[row.EnrollmentID]
		counts.Add(models.AttendanceStatus(row.Status), row.Count)
		result[row.EnrollmentID] = counts
	}
	return result, nil
}
