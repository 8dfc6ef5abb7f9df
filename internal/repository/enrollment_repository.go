package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-records-api/internal/models"
)

const enrollmentColumns = `id, student_id, course_id, status, assignment1, assignment2, coursework, final_exam, experience,
        total_grade, letter_grade, is_rafaa_applied, version, enrolled_at, created_at, updated_at`

// Joined reads substitute empty display values for orphaned references.
const enrollmentDetailSelect = `SELECT e.id, e.student_id, e.course_id, e.status, e.assignment1, e.assignment2, e.coursework, e.final_exam, e.experience,
        e.total_grade, e.letter_grade, e.is_rafaa_applied, e.version, e.enrolled_at, e.created_at, e.updated_at,
        COALESCE(s.full_name, '') AS student_name, COALESCE(s.student_code, '') AS student_code, COALESCE(s.section, '') AS student_section,
        COALESCE(c.name, '') AS course_name, COALESCE(c.course_type, '') AS course_type, COALESCE(c.max_grade, 0) AS max_grade
        FROM enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        LEFT JOIN courses c ON c.id = e.course_id`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListDetails returns enrollment details filtered by the provided criteria.
func (r *EnrollmentRepository) ListDetails(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	if (filter.StudentID != "" && !isUUID(filter.StudentID)) || (filter.CourseID != "" && !isUUID(filter.CourseID)) {
		return []models.EnrollmentDetail{}, 0, nil
	}

	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrolled_at":  "e.enrolled_at",
		"student_name": "s.full_name",
		"total_grade":  "e.total_grade",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrolled_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`%s%s ORDER BY %s %s LIMIT %d OFFSET %d`, enrollmentDetailSelect, clause, orderBy, order, size, offset)
	details := []models.EnrollmentDetail{}
	if err := r.db.SelectContext(ctx, &details, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments e"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return details, total, nil
}

// ListDetailsByCourse returns every enrollment detail of a course ordered by student name.
func (r *EnrollmentRepository) ListDetailsByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	details := []models.EnrollmentDetail{}
	if !isUUID(courseID) {
		return details, nil
	}
	query := enrollmentDetailSelect + ` WHERE e.course_id = $1 ORDER BY student_name, e.id`
	if err := r.db.SelectContext(ctx, &details, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollment details: %w", err)
	}
	return details, nil
}

// ListDetailsByStudent returns every enrollment detail of a student.
func (r *EnrollmentRepository) ListDetailsByStudent(ctx context.Context, studentID string) ([]models.EnrollmentDetail, error) {
	details := []models.EnrollmentDetail{}
	if !isUUID(studentID) {
		return details, nil
	}
	query := enrollmentDetailSelect + ` WHERE e.student_id = $1 ORDER BY e.enrolled_at DESC`
	if err := r.db.SelectContext(ctx, &details, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollment details: %w", err)
	}
	return details, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if !isUUID(id) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with display fields.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if !isUUID(id) {
		return nil, sql.ErrNoRows
	}
	query := enrollmentDetailSelect + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByStudent returns the enrollments of a student.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	if !isUUID(studentID) {
		return enrollments, nil
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE student_id = $1 ORDER BY enrolled_at DESC`
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns the enrollments of a course.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	if !isUUID(courseID) {
		return enrollments, nil
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE course_id = $1 ORDER BY enrolled_at`
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course enrollments: %w", err)
	}
	return enrollments, nil
}

// Exists checks whether the student already holds an enrollment in the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	if !isUUID(studentID) || !isUUID(courseID) {
		return false, nil
	}
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record at version 1.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusActive
	}
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	enrollment.Version = 1
	const query = `INSERT INTO enrollments (id, student_id, course_id, status, assignment1, assignment2, coursework, final_exam, experience,
        total_grade, letter_grade, is_rafaa_applied, version, enrolled_at, created_at, updated_at)
        VALUES (:id, :student_id, :course_id, :status, :assignment1, :assignment2, :coursework, :final_exam, :experience,
        :total_grade, :letter_grade, :is_rafaa_applied, :version, :enrolled_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Update replaces every mutable field of the enrollment when its stored version
// equals expectedVersion. On success enrollment.Version holds the new version.
func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment, expectedVersion int) error {
	if !isUUID(enrollment.ID) {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	const query = `UPDATE enrollments SET status = $3, assignment1 = $4, assignment2 = $5, coursework = $6, final_exam = $7, experience = $8,
        total_grade = $9, letter_grade = $10, is_rafaa_applied = $11, version = version + 1, updated_at = $12
        WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query, enrollment.ID, expectedVersion, enrollment.Status,
		enrollment.Assignment1, enrollment.Assignment2, enrollment.Coursework, enrollment.FinalExam, enrollment.Experience,
		enrollment.TotalGrade, enrollment.LetterGrade, enrollment.IsRafaaApplied, now)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if err := r.checkVersionedWrite(ctx, res, enrollment.ID); err != nil {
		return err
	}
	enrollment.Version = expectedVersion + 1
	enrollment.UpdatedAt = now
	return nil
}

// UpdateGrades stores a recomputed total and letter grade under the same
// version check as Update and returns the new version.
func (r *EnrollmentRepository) UpdateGrades(ctx context.Context, id string, total float64, letter string, expectedVersion int) (int, error) {
	if !isUUID(id) {
		return 0, sql.ErrNoRows
	}
	const query = `UPDATE enrollments SET total_grade = $3, letter_grade = $4, version = version + 1, updated_at = $5
        WHERE id = $1 AND version = $2`
	res, err := r.db.ExecContext(ctx, query, id, expectedVersion, total, letter, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("update enrollment grades: %w", err)
	}
	if err := r.checkVersionedWrite(ctx, res, id); err != nil {
		return 0, err
	}
	return expectedVersion + 1, nil
}

// Delete removes an enrollment together with its attendance logs.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return sql.ErrNoRows
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete enrollment: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_logs WHERE enrollment_id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment attendance: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete enrollment: %w", err)
	}
	committed = true
	return nil
}

// checkVersionedWrite distinguishes a missing row from a lost version race.
func (r *EnrollmentRepository) checkVersionedWrite(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("enrollment rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM enrollments WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("check enrollment exists: %w", err)
	}
	return ErrStaleVersion
}
