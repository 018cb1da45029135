package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/tradecert/tradecert-api/internal/models"
)

func newPaymentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPaymentRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payments")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payment := &models.Payment{SessionID: "sess-1", UserID: "user-1", CourseID: "course-1", Currency: "usd"}
	err := repo.Create(context.Background(), payment)
	require.NoError(t, err)
	require.NotEmpty(t, payment.ID)
	require.Equal(t, models.PaymentStatusCreated, payment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepositoryFindBySessionID(t *testing.T) {
	db, mock, cleanup := newPaymentRepoMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "session_id", "user_id", "course_id", "amount", "currency", "status", "created_at", "updated_at"}).
		AddRow("pay-1", "sess-1", "user-1", "course-1", int64(49900), "usd", models.PaymentStatusCompleted, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnRows(rows)

	payment, err := repo.FindBySessionID(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, int64(49900), payment.Amount)
	require.Equal(t, models.PaymentStatusCompleted, payment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
