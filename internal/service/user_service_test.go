package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type mockUserAdminRepo struct {
	users      map[string]*models.User
	statusLogs []*models.UserStatusLog
	auditLogs  []*models.AuditLog
	revoked    []string
}

func (m *mockUserAdminRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserAdminRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserAdminRepo) UpdateStatus(ctx context.Context, log *models.UserStatusLog) error {
	user, ok := m.users[log.UserID]
	if !ok {
		return sql.ErrNoRows
	}
	user.Status = log.NewStatus
	m.statusLogs = append(m.statusLogs, log)
	return nil
}

func (m *mockUserAdminRepo) StatusHistory(ctx context.Context, userID string) ([]models.UserStatusLog, error) {
	var history []models.UserStatusLog
	for _, l := range m.statusLogs {
		if l.UserID == userID {
			history = append(history, *l)
		}
	}
	return history, nil
}

func (m *mockUserAdminRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, userID)
	return nil
}

func (m *mockUserAdminRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func newUserFixture() (*UserService, *mockUserAdminRepo) {
	repo := &mockUserAdminRepo{users: map[string]*models.User{
		"admin-1": {ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin, Status: models.UserStatusActive},
		"user-1":  {ID: "user-1", Email: "a@example.com", Role: models.RoleUser, Status: models.UserStatusActive},
	}}
	return NewUserService(repo, validator.New(), zap.NewNop()), repo
}

func TestUserServiceList(t *testing.T) {
	svc, _ := newUserFixture()
	users, pagination, err := svc.List(context.Background(), models.UserFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 2, pagination.TotalCount)
}

func TestUserServiceChangeStatusSuspends(t *testing.T) {
	svc, repo := newUserFixture()

	user, err := svc.ChangeStatus(context.Background(), "admin-1", "user-1", models.ChangeUserStatusRequest{
		Status: string(models.UserStatusSuspended),
		Reason: "chargeback",
	})
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, user.Status)
	require.Len(t, repo.statusLogs, 1)
	assert.Equal(t, models.UserStatusActive, repo.statusLogs[0].OldStatus)
	assert.Contains(t, repo.revoked, "user-1")
	assert.NotEmpty(t, repo.auditLogs)
}

func TestUserServiceChangeStatusSameStatusConflicts(t *testing.T) {
	svc, _ := newUserFixture()

	_, err := svc.ChangeStatus(context.Background(), "admin-1", "user-1", models.ChangeUserStatusRequest{
		Status: string(models.UserStatusActive),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceChangeStatusRejectsSelf(t *testing.T) {
	svc, _ := newUserFixture()

	_, err := svc.ChangeStatus(context.Background(), "admin-1", "admin-1", models.ChangeUserStatusRequest{
		Status: string(models.UserStatusLocked),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUserServiceChangeStatusUnknownStatus(t *testing.T) {
	svc, _ := newUserFixture()

	_, err := svc.ChangeStatus(context.Background(), "admin-1", "user-1", models.ChangeUserStatusRequest{
		Status: "BANNED",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceStatusHistory(t *testing.T) {
	svc, _ := newUserFixture()
	_, err := svc.ChangeStatus(context.Background(), "admin-1", "user-1", models.ChangeUserStatusRequest{
		Status: string(models.UserStatusLocked),
		Reason: "fraud review",
	})
	require.NoError(t, err)

	history, err := svc.StatusHistory(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.UserStatusLocked, history[0].NewStatus)
	assert.Equal(t, "fraud review", history[0].Reason)
}
