package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type userAdminRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	UpdateStatus(ctx context.Context, log *models.UserStatusLog) error
	StatusHistory(ctx context.Context, userID string) ([]models.UserStatusLog, error)
	RevokeUserRefreshTokens(ctx context.Context, userID string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService provides admin account management.
type UserService struct {
	repo      userAdminRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userAdminRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// Get returns a user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// List returns users filtered by role, status, or search term.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ChangeStatus moves an account between ACTIVE, SUSPENDED, and LOCKED,
// recording the transition. Leaving ACTIVE revokes open sessions.
func (s *UserService) ChangeStatus(ctx context.Context, adminID, userID string, req models.ChangeUserStatusRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	newStatus := models.UserStatus(req.Status)
	if !newStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown account status")
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status == newStatus {
		return nil, appErrors.Clone(appErrors.ErrConflict, "account is already "+string(newStatus))
	}
	if user.ID == adminID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change own account status")
	}

	log := &models.UserStatusLog{
		UserID:    userID,
		OldStatus: user.Status,
		NewStatus: newStatus,
		ChangedBy: adminID,
		Reason:    req.Reason,
	}
	if err := s.repo.UpdateStatus(ctx, log); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change status")
	}

	if newStatus != models.UserStatusActive {
		if err := s.repo.RevokeUserRefreshTokens(ctx, userID); err != nil {
			s.logger.Warn("failed to revoke sessions after status change", zap.Error(err))
		}
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionUserStatus,
		Resource:   "user",
		ResourceID: &userID,
		OldValues:  []byte(`{"status":"` + string(user.Status) + `"}`),
		NewValues:  []byte(`{"status":"` + string(newStatus) + `"}`),
	}); err != nil {
		s.logger.Warn("failed to record status audit log", zap.Error(err))
	}

	user.Status = newStatus
	return user, nil
}

// StatusHistory returns the account's status transition log.
func (s *UserService) StatusHistory(ctx context.Context, userID string) ([]models.UserStatusLog, error) {
	if _, err := s.Get(ctx, userID); err != nil {
		return nil, err
	}
	history, err := s.repo.StatusHistory(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load status history")
	}
	return history, nil
}
