package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tradecert/tradecert-api/internal/models"
)

const traderColumns = `id, user_id, company, full_name, government_id, phone, email, start_date, end_date,
	duration_years, duration_months, duration_days, remaining_years, remaining_months, remaining_days,
	is_deleted, created_at, updated_at`

// TraderRepository handles persistence of traders and their trainings.
type TraderRepository struct {
	db *sqlx.DB
}

// NewTraderRepository constructs the repository.
func NewTraderRepository(db *sqlx.DB) *TraderRepository {
	return &TraderRepository{db: db}
}

// FindByUserID returns the trader associated with a user account.
func (r *TraderRepository) FindByUserID(ctx context.Context, userID string) (*models.Trader, error) {
	query := fmt.Sprintf(`SELECT %s FROM traders WHERE user_id = $1 LIMIT 1`, traderColumns)
	var trader models.Trader
	if err := r.db.GetContext(ctx, &trader, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find trader by user: %w", err)
	}
	return &trader, nil
}

// FindByID returns a trader by identifier.
func (r *TraderRepository) FindByID(ctx context.Context, id string) (*models.Trader, error) {
	query := fmt.Sprintf(`SELECT %s FROM traders WHERE id = $1 LIMIT 1`, traderColumns)
	var trader models.Trader
	if err := r.db.GetContext(ctx, &trader, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find trader by id: %w", err)
	}
	return &trader, nil
}

// Create inserts a new trader record.
func (r *TraderRepository) Create(ctx context.Context, trader *models.Trader) error {
	if trader.ID == "" {
		trader.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if trader.CreatedAt.IsZero() {
		trader.CreatedAt = now
	}
	trader.UpdatedAt = now

	const query = `INSERT INTO traders (id, user_id, company, full_name, government_id, phone, email, is_deleted, created_at, updated_at)
        VALUES (:id, :user_id, :company, :full_name, :government_id, :phone, :email, :is_deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, trader); err != nil {
		return fmt.Errorf("create trader: %w", err)
	}
	return nil
}

// UpdateContact updates the trader's mutable contact fields.
func (r *TraderRepository) UpdateContact(ctx context.Context, trader *models.Trader) error {
	trader.UpdatedAt = time.Now().UTC()
	const query = `UPDATE traders SET company = :company, full_name = :full_name, government_id = :government_id,
        phone = :phone, email = :email, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, trader); err != nil {
		return fmt.Errorf("update trader contact: %w", err)
	}
	return nil
}

// SoftDelete marks a trader as deleted without removing the record.
func (r *TraderRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE traders SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete trader: %w", err)
	}
	return nil
}

// ListTrainings returns the trader's training history in append order.
func (r *TraderRepository) ListTrainings(ctx context.Context, traderID string) ([]models.Training, error) {
	const query = `SELECT id, trader_id, course_id, course_name, description, location, hours, scheduled_date, is_completed, created_at
        FROM trader_trainings WHERE trader_id = $1 ORDER BY created_at ASC`
	var trainings []models.Training
	if err := r.db.SelectContext(ctx, &trainings, query, traderID); err != nil {
		return nil, fmt.Errorf("list trainings: %w", err)
	}
	return trainings, nil
}

// FindTraining returns the training entry for a course, keyed by course id.
func (r *TraderRepository) FindTraining(ctx context.Context, traderID, courseID string) (*models.Training, error) {
	const query = `SELECT id, trader_id, course_id, course_name, description, location, hours, scheduled_date, is_completed, created_at
        FROM trader_trainings WHERE trader_id = $1 AND course_id = $2 LIMIT 1`
	var training models.Training
	if err := r.db.GetContext(ctx, &training, query, traderID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find training: %w", err)
	}
	return &training, nil
}

// HasTrainingOnDate checks whether any training is scheduled on the given
// calendar day, preventing double-booking across courses.
func (r *TraderRepository) HasTrainingOnDate(ctx context.Context, traderID string, date time.Time) (bool, error) {
	const query = `SELECT 1 FROM trader_trainings WHERE trader_id = $1 AND scheduled_date::date = $2::date LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, traderID, date); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check training date: %w", err)
	}
	return true, nil
}
