package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type paymentLedgerRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	UpdateFromEvent(ctx context.Context, payment *models.Payment) error
	List(ctx context.Context, filter models.PaymentFilter) ([]models.Payment, int, error)
}

type paymentCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type paymentAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PaymentService keeps the checkout ledger in step with gateway events.
type PaymentService struct {
	repo      paymentLedgerRepository
	courses   paymentCourseReader
	auditor   paymentAuditor
	validator *validator.Validate
	logger    *zap.Logger
	currency  string
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(repo paymentLedgerRepository, courses paymentCourseReader, auditor paymentAuditor, validate *validator.Validate, logger *zap.Logger, currency string) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if currency == "" {
		currency = "usd"
	}
	return &PaymentService{repo: repo, courses: courses, auditor: auditor, validator: validate, logger: logger, currency: currency}
}

// CreateCheckoutSession opens a zero-amount ledger row for a course
// purchase. The amount arrives later with the gateway's completion event.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, userID, courseID string) (*models.CheckoutSession, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.IsDeleted || !course.IsPublished {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	if course.PriceRef == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course has no price configured")
	}

	sessionID := "cs_" + uuid.NewString()
	payment := &models.Payment{
		SessionID: sessionID,
		UserID:    userID,
		CourseID:  courseID,
		Currency:  s.currency,
		Status:    models.PaymentStatusCreated,
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open ledger row")
	}

	return &models.CheckoutSession{
		SessionID:  sessionID,
		CourseID:   courseID,
		ProductRef: course.ProductRef,
		PriceRef:   course.PriceRef,
		Currency:   s.currency,
	}, nil
}

// HandleGatewayEvent reconciles a normalized webhook event against the
// ledger. Replayed events for an already-settled session are ignored.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, event models.GatewayEvent) (*models.Payment, error) {
	if err := s.validator.Struct(event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid gateway event")
	}

	payment, err := s.repo.FindBySessionID(ctx, event.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "unknown checkout session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger row")
	}

	next, ok := nextPaymentStatus(payment.Status, event.Type)
	if !ok {
		s.logger.Info("ignoring gateway event",
			zap.String("session_id", event.SessionID),
			zap.String("type", event.Type),
			zap.String("current_status", string(payment.Status)))
		return payment, nil
	}

	payment.Status = next
	if event.Amount > 0 {
		payment.Amount = event.Amount
	}
	if event.Currency != "" {
		payment.Currency = event.Currency
	}
	if event.CustomerEmail != "" {
		payment.CustomerEmail = event.CustomerEmail
	}
	if event.CustomerName != "" {
		payment.CustomerName = event.CustomerName
	}
	if event.PaymentMethod != "" {
		payment.PaymentMethod = &event.PaymentMethod
	}
	if event.PaymentIntent != "" {
		payment.PaymentIntent = &event.PaymentIntent
	}

	if err := s.repo.UpdateFromEvent(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update ledger row")
	}

	raw, _ := json.Marshal(event)
	if err := s.auditor.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &payment.UserID,
		Action:     models.AuditActionPaymentEvent,
		Resource:   "payment",
		ResourceID: &payment.ID,
		NewValues:  raw,
	}); err != nil {
		s.logger.Warn("failed to record payment audit log", zap.Error(err))
	}
	return payment, nil
}

// List returns ledger rows. Regular users only see their own.
func (s *PaymentService) List(ctx context.Context, callerID string, callerRole models.UserRole, filter models.PaymentFilter) ([]models.Payment, *models.Pagination, error) {
	if callerRole != models.RoleAdmin {
		filter.UserID = callerID
	}
	payments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return payments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// nextPaymentStatus maps a gateway event onto the ledger state machine.
// Terminal rows only accept a refund after completion.
func nextPaymentStatus(current models.PaymentStatus, eventType string) (models.PaymentStatus, bool) {
	switch eventType {
	case models.GatewayEventCompleted:
		if current == models.PaymentStatusCreated {
			return models.PaymentStatusCompleted, true
		}
	case models.GatewayEventFailed:
		if current == models.PaymentStatusCreated {
			return models.PaymentStatusFailed, true
		}
	case models.GatewayEventRefunded:
		if current == models.PaymentStatusCompleted {
			return models.PaymentStatusRefunded, true
		}
	}
	return current, false
}
