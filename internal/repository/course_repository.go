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

const courseColumns = `id, name, description, level, credit_hours, semester_id, department_id, max_grade, course_type, created_at, updated_at`

// cascadeSteps is the fixed deletion order; dependants go before the course row.
var cascadeSteps = []struct {
	stage CascadeStage
	query string
}{
	{CascadeStageSchedules, `DELETE FROM schedules WHERE course_id = $1`},
	{CascadeStageSections, `DELETE FROM sections WHERE course_id = $1`},
	{CascadeStageAttendanceLogs, `DELETE FROM attendance_logs WHERE enrollment_id IN (SELECT id FROM enrollments WHERE course_id = $1)`},
	{CascadeStageEnrollments, `DELETE FROM enrollments WHERE course_id = $1`},
	{CascadeStageCourse, `DELETE FROM courses WHERE id = $1`},
}

// CourseRepository handles persistence of courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	if (filter.DepartmentID != "" && !isUUID(filter.DepartmentID)) || (filter.SemesterID != "" && !isUUID(filter.SemesterID)) {
		return []models.Course{}, 0, nil
	}

	var conditions []string
	var args []interface{}

	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.SemesterID != "" {
		conditions = append(conditions, fmt.Sprintf("semester_id = $%d", len(args)+1))
		args = append(args, filter.SemesterID)
	}
	if filter.CourseType != "" {
		conditions = append(conditions, fmt.Sprintf("course_type = $%d", len(args)+1))
		args = append(args, filter.CourseType)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"name":       "name",
		"level":      "level",
		"created_at": "created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf(`SELECT %s FROM courses%s ORDER BY %s %s LIMIT %d OFFSET %d`, courseColumns, clause, orderBy, order, size, offset)
	courses := []models.Course{}
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM courses"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by its ID.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if !isUUID(id) {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, name, description, level, credit_hours, semester_id, department_id, max_grade, course_type, created_at, updated_at)
        VALUES (:id, :name, :description, :level, :credit_hours, :semester_id, :department_id, :max_grade, :course_type, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of a course.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	if !isUUID(course.ID) {
		return sql.ErrNoRows
	}
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, description = :description, level = :level, credit_hours = :credit_hours,
        semester_id = :semester_id, department_id = :department_id, max_grade = :max_grade, course_type = :course_type, updated_at = :updated_at
        WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update course rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteCascade removes a course and every row depending on it inside a single
// transaction. On failure the transaction is rolled back and a *CascadeError
// names the failed stage.
func (r *CourseRepository) DeleteCascade(ctx context.Context, id string) (*models.CourseDeletion, error) {
	if !isUUID(id) {
		return nil, &CascadeError{Stage: CascadeStageCourse, Err: sql.ErrNoRows}
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, &CascadeError{Stage: CascadeStageBegin, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	summary := &models.CourseDeletion{CourseID: id}
	for _, step := range cascadeSteps {
		res, err := tx.ExecContext(ctx, step.query, id)
		if err != nil {
			return nil, &CascadeError{Stage: step.stage, Err: err}
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, &CascadeError{Stage: step.stage, Err: err}
		}
		switch step.stage {
		case CascadeStageSchedules:
			summary.Schedules = affected
		case CascadeStageSections:
			summary.Sections = affected
		case CascadeStageAttendanceLogs:
			summary.AttendanceLogs = affected
		case CascadeStageEnrollments:
			summary.Enrollments = affected
		case CascadeStageCourse:
			if affected == 0 {
				return nil, &CascadeError{Stage: step.stage, Err: sql.ErrNoRows}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &CascadeError{Stage: CascadeStageCommit, Err: err}
	}
	committed = true
	return summary, nil
}
