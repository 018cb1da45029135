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

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryFindByUserAndCourse(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "status", "enroll_date"}).
		AddRow("enr-1", "user-1", "course-1", models.EnrollmentStatusPending, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE user_id = $1 AND course_id = $2")).
		WithArgs("user-1", "course-1").
		WillReturnRows(rows)

	enrollment, err := repo.FindByUserAndCourse(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsMiss(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE user_id = $1 AND course_id = $2")).
		WithArgs("user-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.Exists(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListAwaitingAction(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	courseDate := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "status", "enroll_date",
		"trader_name", "trader_company", "course_name", "course_date", "course_location"}).
		AddRow("enr-1", "user-1", "course-1", models.EnrollmentStatusValidated, time.Now(),
			"Dana Reeve", "Apex Capital", "Order Flow Basics", courseDate, "Chicago")
	mock.ExpectQuery("SELECT e\\.id, e\\.user_id").WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	details, total, err := repo.ListAwaitingAction(context.Background(), models.EnrollmentFilter{Status: models.EnrollmentStatusValidated})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, details, 1)
	require.Equal(t, "Dana Reeve", details[0].TraderName)
	require.NoError(t, mock.ExpectationsWereMet())
}
