package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type mockAuthUserRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	auditLogs     []*models.AuditLog
	lastLogin     map[string]time.Time
}

func newMockAuthUserRepo() *mockAuthUserRepo {
	return &mockAuthUserRepo{
		users:         map[string]*models.User{},
		refreshTokens: map[string]*models.RefreshToken{},
		lastLogin:     map[string]time.Time{},
	}
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) Create(ctx context.Context, user *models.User) error {
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockAuthUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLogin[id] = ts
	return nil
}

func (m *mockAuthUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
		return nil
	}
	return sql.ErrNoRows
}

func (m *mockAuthUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, t := range m.refreshTokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	copy := *token
	m.refreshTokens[token.Token] = &copy
	return nil
}

func (m *mockAuthUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.refreshTokens[token]; ok {
		copy := *t
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockAuthTraderRepo struct {
	created []*models.Trader
}

func (m *mockAuthTraderRepo) Create(ctx context.Context, trader *models.Trader) error {
	copy := *trader
	m.created = append(m.created, &copy)
	return nil
}

func newAuthFixture() (*AuthService, *mockAuthUserRepo, *mockAuthTraderRepo) {
	users := newMockAuthUserRepo()
	traders := &mockAuthTraderRepo{}
	svc := NewAuthService(users, traders, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "tradecert-test",
	})
	return svc, users, traders
}

func seedUser(repo *mockAuthUserRepo, password string, status models.UserStatus) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := &models.User{
		ID:           "user-1",
		Email:        "trader@example.com",
		PasswordHash: string(hash),
		FullName:     "Trader One",
		Role:         models.RoleUser,
		Status:       status,
	}
	repo.users[user.ID] = user
	return user
}

func TestAuthRegisterCreatesUserAndTrader(t *testing.T) {
	svc, users, traders := newAuthFixture()

	info, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "new@example.com",
		Password: "secret1",
		FullName: "New Trader",
		Company:  "Acme Capital",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, info.Role)
	assert.Len(t, users.users, 1)
	require.Len(t, traders.created, 1)
	assert.Equal(t, info.ID, traders.created[0].UserID)
	assert.Equal(t, "Acme Capital", traders.created[0].Company)
}

func TestAuthRegisterDuplicateEmail(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusActive)

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "trader@example.com",
		Password: "secret1",
		FullName: "Someone Else",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginIssuesTokens(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusActive)

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "trader@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Contains(t, users.refreshTokens, res.RefreshToken)
	assert.Contains(t, users.lastLogin, "user-1")

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusActive)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "trader@example.com",
		Password: "wrong-password",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginRejectsInactiveAccount(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusSuspended)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "trader@example.com",
		Password: "secret1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountInactive.Code, appErrors.FromError(err).Code)
}

func TestAuthRefreshRotatesToken(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusActive)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "trader@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)
	assert.True(t, users.refreshTokens[login.RefreshToken].Revoked)
}

func TestAuthValidateTokenRejectsTampered(t *testing.T) {
	svc, users, _ := newAuthFixture()
	seedUser(users, "secret1", models.UserStatusActive)

	login, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "trader@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	require.Error(t, err)
}
