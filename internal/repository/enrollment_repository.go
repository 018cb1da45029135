package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/tradecert/tradecert-api/internal/models"
)

const enrollmentColumns = `id, user_id, course_id, status, enroll_date, validation_code, validated_at,
	verified_by, verified_at`

// EnrollmentRepository reads enrollment records. Writes that span multiple
// tables live in WorkflowRepository.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID returns an enrollment by identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by id: %w", err)
	}
	return &enrollment, nil
}

// FindByUserAndCourse returns the enrollment a user holds for a course,
// regardless of its status.
func (r *EnrollmentRepository) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE user_id = $1 AND course_id = $2 LIMIT 1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment by user and course: %w", err)
	}
	return &enrollment, nil
}

// Exists reports whether any enrollment row links the user to the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, userID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return true, nil
}

// ListAwaitingAction returns enrollments an admin still has to act on,
// joined with trader and course context for review.
func (r *EnrollmentRepository) ListAwaitingAction(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	baseQuery := `FROM enrollments e
        JOIN traders t ON t.user_id = e.user_id AND t.is_deleted = FALSE
        JOIN courses c ON c.id = e.course_id
        WHERE e.status IN ('PENDING', 'VALIDATED')`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(t.full_name) LIKE $%d OR LOWER(c.name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
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

	listQuery := fmt.Sprintf(`SELECT e.id, e.user_id, e.course_id, e.status, e.enroll_date,
        e.validation_code, e.validated_at, e.verified_by, e.verified_at,
        t.full_name AS trader_name, t.company AS trader_company,
        c.name AS course_name, c.course_date, c.location AS course_location
        %s ORDER BY e.enroll_date ASC LIMIT %d OFFSET %d`, baseQuery, size, offset)

	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list awaiting enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count awaiting enrollments: %w", err)
	}
	return details, total, nil
}

// HistoryByUser returns a user's enrollments across all statuses, most
// recent first.
func (r *EnrollmentRepository) HistoryByUser(ctx context.Context, userID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.user_id, e.course_id, e.status, e.enroll_date,
        e.validation_code, e.validated_at, e.verified_by, e.verified_at,
        t.full_name AS trader_name, t.company AS trader_company,
        c.name AS course_name, c.course_date, c.location AS course_location
        FROM enrollments e
        JOIN traders t ON t.user_id = e.user_id
        JOIN courses c ON c.id = e.course_id
        WHERE e.user_id = $1
        ORDER BY e.enroll_date DESC`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, userID); err != nil {
		return nil, fmt.Errorf("enrollment history: %w", err)
	}
	return details, nil
}
