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

func newWorkflowRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestTakeSeat(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET available_seats = available_seats - 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := takeSeat(context.Background(), db, "course-1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTakeSeatFull(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET available_seats = available_seats - 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := takeSeat(context.Background(), db, "course-1", time.Now().UTC())
	require.ErrorIs(t, err, ErrNoSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreSeatCapped(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("available_seats = available_seats + 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// A zero-row update means the course was already at capacity; not an error.
	err := restoreSeat(context.Background(), db, "course-1", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryRegister(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	enrollment := &models.Enrollment{UserID: "user-1", CourseID: "course-1"}
	training := &models.Training{
		TraderID:      "trader-1",
		CourseID:      "course-1",
		CourseName:    "Order Flow Basics",
		Hours:         4,
		ScheduledDate: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET available_seats = available_seats - 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WithArgs(sqlmock.AnyArg(), "user-1", "course-1", models.EnrollmentStatusPending, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trader_trainings")).
		WithArgs(sqlmock.AnyArg(), "trader-1", "course-1", "Order Flow Basics", "", "", 4, training.ScheduledDate, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_registrations")).
		WithArgs("course-1", "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Register(context.Background(), enrollment, training)
	require.NoError(t, err)
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryRegisterNoSeats(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET available_seats = available_seats - 1")).
		WithArgs("course-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	enrollment := &models.Enrollment{UserID: "user-1", CourseID: "course-1"}
	err := repo.Register(context.Background(), enrollment, &models.Training{TraderID: "trader-1", CourseID: "course-1"})
	require.ErrorIs(t, err, ErrNoSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryValidate(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	enrollment := &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}
	validatedAt := time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, validation_code = $3, validated_at = $4")).
		WithArgs("enr-1", models.EnrollmentStatusValidated, "482913", validatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_approval_queue")).
		WithArgs("course-1", "user-1", validatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Validate(context.Background(), enrollment, "482913", validatedAt)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusValidated, enrollment.Status)
	require.NotNil(t, enrollment.ValidatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryApprove(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	enrollment := &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusValidated}
	verifiedAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	window := models.CertificationWindow{
		StartDate: time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2027, 3, 11, 0, 0, 0, 0, time.UTC),
		Duration:  models.TimeBreakdown{Years: 2},
		Remaining: models.TimeBreakdown{Years: 2},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, verified_by = $3, verified_at = $4")).
		WithArgs("enr-1", models.EnrollmentStatusApproved, "admin-1", verifiedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE trader_trainings SET is_completed = TRUE")).
		WithArgs("trader-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE traders SET start_date = $2, end_date = $3")).
		WithArgs("trader-1", window.StartDate, window.EndDate, 2, 0, 0, 2, 0, 0, verifiedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_approval_queue")).
		WithArgs("course-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Approve(context.Background(), enrollment, "trader-1", "admin-1", verifiedAt, window)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusApproved, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkflowRepositoryReject(t *testing.T) {
	db, mock, cleanup := newWorkflowRepoMock(t)
	defer cleanup()
	repo := NewWorkflowRepository(db)

	enrollment := &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}
	verifiedAt := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, verified_by = $3, verified_at = $4")).
		WithArgs("enr-1", models.EnrollmentStatusRejected, "admin-1", verifiedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM trader_trainings WHERE trader_id = $1 AND course_id = $2")).
		WithArgs("trader-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("available_seats = available_seats + 1")).
		WithArgs("course-1", verifiedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_registrations")).
		WithArgs("course-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_approval_queue")).
		WithArgs("course-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Reject(context.Background(), enrollment, "trader-1", "admin-1", verifiedAt)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusRejected, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
