package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradecert/tradecert-api/internal/models"
)

// ErrDuplicateEnrollment is returned when the (user, course) uniqueness
// constraint rejects a second registration.
var ErrDuplicateEnrollment = errors.New("enrollment already exists")

// ErrNoSeats is returned when the conditional seat decrement affects no
// rows, meaning the course was already full.
var ErrNoSeats = errors.New("no seats available")

const pqUniqueViolation = "23505"

// The statements below carry the seat-cap and membership invariants. They
// exist once, as helpers over sqlx.ExtContext, so every transition runs
// the same SQL whether it executes on a transaction or a bare connection.

// takeSeat claims one seat via a conditional update. The floor is enforced
// by the WHERE clause, not a read-then-write.
func takeSeat(ctx context.Context, ext sqlx.ExtContext, courseID string, at time.Time) error {
	res, err := ext.ExecContext(ctx,
		`UPDATE courses SET available_seats = available_seats - 1, updated_at = $2
         WHERE id = $1 AND available_seats > 0`,
		courseID, at)
	if err != nil {
		return fmt.Errorf("take seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("take seat result: %w", err)
	}
	if affected == 0 {
		return ErrNoSeats
	}
	return nil
}

// restoreSeat returns one seat to the pool, capped at max_seats. A zero-row
// update means the course was already at capacity and is not an error.
func restoreSeat(ctx context.Context, ext sqlx.ExtContext, courseID string, at time.Time) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE courses SET available_seats = available_seats + 1, updated_at = $2
         WHERE id = $1 AND available_seats < max_seats`,
		courseID, at)
	if err != nil {
		return fmt.Errorf("restore seat: %w", err)
	}
	return nil
}

// addRegistration records seat-holder membership; duplicate adds are no-ops.
func addRegistration(ctx context.Context, ext sqlx.ExtContext, courseID, userID string, at time.Time) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO course_registrations (course_id, user_id, created_at) VALUES ($1, $2, $3)
         ON CONFLICT (course_id, user_id) DO NOTHING`,
		courseID, userID, at)
	if err != nil {
		return fmt.Errorf("add course registration: %w", err)
	}
	return nil
}

func removeRegistration(ctx context.Context, ext sqlx.ExtContext, courseID, userID string) error {
	_, err := ext.ExecContext(ctx,
		`DELETE FROM course_registrations WHERE course_id = $1 AND user_id = $2`,
		courseID, userID)
	if err != nil {
		return fmt.Errorf("remove course registration: %w", err)
	}
	return nil
}

// enqueueApproval records a validated attendee for admin review; idempotent.
func enqueueApproval(ctx context.Context, ext sqlx.ExtContext, courseID, userID string, at time.Time) error {
	_, err := ext.ExecContext(ctx,
		`INSERT INTO course_approval_queue (course_id, user_id, created_at) VALUES ($1, $2, $3)
         ON CONFLICT (course_id, user_id) DO NOTHING`,
		courseID, userID, at)
	if err != nil {
		return fmt.Errorf("add to approval queue: %w", err)
	}
	return nil
}

func dequeueApproval(ctx context.Context, ext sqlx.ExtContext, courseID, userID string) error {
	_, err := ext.ExecContext(ctx,
		`DELETE FROM course_approval_queue WHERE course_id = $1 AND user_id = $2`,
		courseID, userID)
	if err != nil {
		return fmt.Errorf("remove from approval queue: %w", err)
	}
	return nil
}

// writeTraderWindow stores a recomputed certification window with its
// duration and remaining display fields.
func writeTraderWindow(ctx context.Context, ext sqlx.ExtContext, traderID string, window models.CertificationWindow, at time.Time) error {
	_, err := ext.ExecContext(ctx,
		`UPDATE traders SET start_date = $2, end_date = $3,
         duration_years = $4, duration_months = $5, duration_days = $6,
         remaining_years = $7, remaining_months = $8, remaining_days = $9,
         updated_at = $10 WHERE id = $1`,
		traderID, window.StartDate, window.EndDate,
		window.Duration.Years, window.Duration.Months, window.Duration.Days,
		window.Remaining.Years, window.Remaining.Months, window.Remaining.Days,
		at)
	if err != nil {
		return fmt.Errorf("write trader window: %w", err)
	}
	return nil
}

// WorkflowRepository owns the multi-table transitions of the enrollment
// state machine. Each method is a single transaction: either every table
// involved in a transition moves, or none do.
type WorkflowRepository struct {
	db *sqlx.DB
}

// NewWorkflowRepository constructs the repository.
func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Register takes a seat and records the enrollment, the training history
// row, and the course membership in one transaction. The seat decrement is
// conditional, so a full course rolls the whole registration back.
func (r *WorkflowRepository) Register(ctx context.Context, enrollment *models.Enrollment, training *models.Training) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register tx: %w", err)
	}
	defer tx.Rollback()

	if err := takeSeat(ctx, tx, enrollment.CourseID, time.Now().UTC()); err != nil {
		return err
	}

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrollDate.IsZero() {
		enrollment.EnrollDate = time.Now().UTC()
	}
	enrollment.Status = models.EnrollmentStatusPending

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO enrollments (id, user_id, course_id, status, enroll_date)
         VALUES (:id, :user_id, :course_id, :status, :enroll_date)`, enrollment)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateEnrollment
		}
		return fmt.Errorf("register insert enrollment: %w", err)
	}

	if training.ID == "" {
		training.ID = uuid.NewString()
	}
	if training.CreatedAt.IsZero() {
		training.CreatedAt = time.Now().UTC()
	}
	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO trader_trainings (id, trader_id, course_id, course_name, description, location, hours, scheduled_date, is_completed, created_at)
         VALUES (:id, :trader_id, :course_id, :course_name, :description, :location, :hours, :scheduled_date, :is_completed, :created_at)`,
		training)
	if err != nil {
		return fmt.Errorf("register insert training: %w", err)
	}

	if err := addRegistration(ctx, tx, enrollment.CourseID, enrollment.UserID, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register tx: %w", err)
	}
	return nil
}

// Validate stamps a successful attendance-code entry and queues the
// enrollment for admin approval.
func (r *WorkflowRepository) Validate(ctx context.Context, enrollment *models.Enrollment, code string, validatedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin validate tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, validation_code = $3, validated_at = $4 WHERE id = $1`,
		enrollment.ID, models.EnrollmentStatusValidated, code, validatedAt)
	if err != nil {
		return fmt.Errorf("validate enrollment: %w", err)
	}

	if err := enqueueApproval(ctx, tx, enrollment.CourseID, enrollment.UserID, validatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit validate tx: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusValidated
	enrollment.ValidationCode = &code
	enrollment.ValidatedAt = &validatedAt
	return nil
}

// Approve finalizes an enrollment: records the verifying admin, marks the
// training completed, applies the recomputed certification window to the
// trader, and clears the approval queue entry.
func (r *WorkflowRepository) Approve(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time, window models.CertificationWindow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, verified_by = $3, verified_at = $4 WHERE id = $1`,
		enrollment.ID, models.EnrollmentStatusApproved, adminID, verifiedAt)
	if err != nil {
		return fmt.Errorf("approve enrollment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE trader_trainings SET is_completed = TRUE WHERE trader_id = $1 AND course_id = $2`,
		traderID, enrollment.CourseID)
	if err != nil {
		return fmt.Errorf("approve training: %w", err)
	}

	if err := writeTraderWindow(ctx, tx, traderID, window, verifiedAt); err != nil {
		return err
	}

	if err := dequeueApproval(ctx, tx, enrollment.CourseID, enrollment.UserID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approve tx: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusApproved
	enrollment.VerifiedBy = &adminID
	enrollment.VerifiedAt = &verifiedAt
	return nil
}

// Reject closes out an enrollment: the seat returns to the pool (capped at
// capacity), the training history row is removed by course id, and both
// membership tables are cleared.
func (r *WorkflowRepository) Reject(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE enrollments SET status = $2, verified_by = $3, verified_at = $4 WHERE id = $1`,
		enrollment.ID, models.EnrollmentStatusRejected, adminID, verifiedAt)
	if err != nil {
		return fmt.Errorf("reject enrollment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM trader_trainings WHERE trader_id = $1 AND course_id = $2`,
		traderID, enrollment.CourseID)
	if err != nil {
		return fmt.Errorf("reject training: %w", err)
	}

	if err := restoreSeat(ctx, tx, enrollment.CourseID, verifiedAt); err != nil {
		return err
	}

	if err := removeRegistration(ctx, tx, enrollment.CourseID, enrollment.UserID); err != nil {
		return err
	}

	if err := dequeueApproval(ctx, tx, enrollment.CourseID, enrollment.UserID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reject tx: %w", err)
	}
	enrollment.Status = models.EnrollmentStatusRejected
	enrollment.VerifiedBy = &adminID
	enrollment.VerifiedAt = &verifiedAt
	return nil
}
