package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tradecert/tradecert-api/internal/models"
)

const courseColumns = `id, name, code, description, start_date, end_date, course_date, location, hours,
	max_seats, available_seats, tags, image_path, product_ref, price_ref, is_published, is_deleted,
	generated_code, code_generated_at, created_at, updated_at`

// CourseRepository handles persistence of the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// FindByID returns a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1 LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by id: %w", err)
	}
	return &course, nil
}

// FindByGeneratedCode returns the course holding the given attendance code.
func (r *CourseRepository) FindByGeneratedCode(ctx context.Context, code string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE generated_code = $1 AND is_deleted = FALSE LIMIT 1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find course by code: %w", err)
	}
	return &course, nil
}

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	baseQuery := `FROM courses WHERE is_deleted = FALSE`
	var conditions []string
	var args []interface{}

	if filter.PublishedOnly {
		conditions = append(conditions, "is_published = TRUE")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", len(args)+1))
		args = append(args, filter.Tag)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":        "name",
		"course_date": "course_date",
		"created_at":  "created_at",
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "course_date"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", courseColumns, baseQuery, orderBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Create persists a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	const query = `INSERT INTO courses (id, name, code, description, start_date, end_date, course_date, location, hours,
        max_seats, available_seats, tags, image_path, product_ref, price_ref, is_published, is_deleted, created_at, updated_at)
        VALUES (:id, :name, :code, :description, :start_date, :end_date, :course_date, :location, :hours,
        :max_seats, :available_seats, :tags, :image_path, :product_ref, :price_ref, :is_published, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update persists mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, code = :code, description = :description,
        start_date = :start_date, end_date = :end_date, course_date = :course_date, location = :location,
        hours = :hours, max_seats = :max_seats, tags = :tags, product_ref = :product_ref, price_ref = :price_ref,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// SetPublished toggles catalog visibility.
func (r *CourseRepository) SetPublished(ctx context.Context, id string, published bool) error {
	const query = `UPDATE courses SET is_published = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, published, time.Now().UTC()); err != nil {
		return fmt.Errorf("publish course: %w", err)
	}
	return nil
}

// SetImage stores the uploaded image reference.
func (r *CourseRepository) SetImage(ctx context.Context, id, imagePath string) error {
	const query = `UPDATE courses SET image_path = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, imagePath, time.Now().UTC()); err != nil {
		return fmt.Errorf("set course image: %w", err)
	}
	return nil
}

// SoftDelete marks a course as deleted without removing the record.
func (r *CourseRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE courses SET is_deleted = TRUE, is_published = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete course: %w", err)
	}
	return nil
}

// SetGeneratedCode stores the session attendance code and issuance timestamp.
func (r *CourseRepository) SetGeneratedCode(ctx context.Context, id, code string, issuedAt time.Time) error {
	const query = `UPDATE courses SET generated_code = $2, code_generated_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, code, issuedAt); err != nil {
		return fmt.Errorf("set attendance code: %w", err)
	}
	return nil
}

// IsRegistered checks seat-holder membership for a user.
func (r *CourseRepository) IsRegistered(ctx context.Context, courseID, userID string) (bool, error) {
	const query = `SELECT 1 FROM course_registrations WHERE course_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, courseID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course registration: %w", err)
	}
	return true, nil
}
