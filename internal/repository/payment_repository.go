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

const paymentColumns = `id, session_id, user_id, course_id, amount, currency, status,
	customer_email, customer_name, payment_method, payment_intent, metadata, created_at, updated_at`

// PaymentRepository handles the checkout ledger.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create opens a ledger row for a checkout session.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusCreated
	}

	const query = `INSERT INTO payments (id, session_id, user_id, course_id, amount, currency, status,
        customer_email, customer_name, payment_method, payment_intent, metadata, created_at, updated_at)
        VALUES (:id, :session_id, :user_id, :course_id, :amount, :currency, :status,
        :customer_email, :customer_name, :payment_method, :payment_intent, :metadata, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// FindBySessionID returns the ledger row for a checkout session.
func (r *PaymentRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE session_id = $1 LIMIT 1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, sessionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find payment by session: %w", err)
	}
	return &payment, nil
}

// UpdateFromEvent reconciles a ledger row with a gateway event.
func (r *PaymentRepository) UpdateFromEvent(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payments SET amount = :amount, currency = :currency, status = :status,
        customer_email = :customer_email, customer_name = :customer_name,
        payment_method = :payment_method, payment_intent = :payment_intent,
        updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

// List returns ledger rows filtered by the provided criteria.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error) {
	baseQuery := `FROM payments WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"created_at": "created_at",
		"amount":     "amount",
		"status":     "status",
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "created_at"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", paymentColumns, baseQuery, orderBy, order, size, offset)

	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return payments, total, nil
}
