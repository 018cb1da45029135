package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type mockTraderReader struct {
	traders       map[string]*models.Trader
	trainings     map[string]*models.Training
	trainingDates map[string]bool
}

func (m *mockTraderReader) FindByUserID(ctx context.Context, userID string) (*models.Trader, error) {
	if tr, ok := m.traders[userID]; ok {
		return tr, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTraderReader) FindTraining(ctx context.Context, traderID, courseID string) (*models.Training, error) {
	if tr, ok := m.trainings[traderID+"/"+courseID]; ok {
		return tr, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTraderReader) HasTrainingOnDate(ctx context.Context, traderID string, date time.Time) (bool, error) {
	return m.trainingDates[traderID+"/"+date.Format("2006-01-02")], nil
}

type mockCourseReader struct {
	courses    map[string]*models.Course
	byCode     map[string]*models.Course
	registered map[string]bool
	storedCode string
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) FindByGeneratedCode(ctx context.Context, code string) (*models.Course, error) {
	if c, ok := m.byCode[code]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCourseReader) SetGeneratedCode(ctx context.Context, id, code string, issuedAt time.Time) error {
	m.storedCode = code
	return nil
}

func (m *mockCourseReader) IsRegistered(ctx context.Context, courseID, userID string) (bool, error) {
	return m.registered[courseID+"/"+userID], nil
}

type mockEnrollmentReader struct {
	enrollments map[string]*models.Enrollment
	awaiting    []models.EnrollmentDetail
	history     []models.EnrollmentDetail
}

func (m *mockEnrollmentReader) FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[userID+"/"+courseID]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentReader) Exists(ctx context.Context, userID, courseID string) (bool, error) {
	_, ok := m.enrollments[userID+"/"+courseID]
	return ok, nil
}

func (m *mockEnrollmentReader) ListAwaitingAction(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return m.awaiting, len(m.awaiting), nil
}

func (m *mockEnrollmentReader) HistoryByUser(ctx context.Context, userID string) ([]models.EnrollmentDetail, error) {
	return m.history, nil
}

type mockWorkflow struct {
	registerErr error
	registered  *models.Enrollment
	validated   *models.Enrollment
	approved    *models.Enrollment
	rejected    *models.Enrollment
	window      models.CertificationWindow
}

func (m *mockWorkflow) Register(ctx context.Context, enrollment *models.Enrollment, training *models.Training) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	enrollment.ID = "enr-new"
	enrollment.Status = models.EnrollmentStatusPending
	m.registered = enrollment
	return nil
}

func (m *mockWorkflow) Validate(ctx context.Context, enrollment *models.Enrollment, code string, validatedAt time.Time) error {
	enrollment.Status = models.EnrollmentStatusValidated
	enrollment.ValidationCode = &code
	enrollment.ValidatedAt = &validatedAt
	m.validated = enrollment
	return nil
}

func (m *mockWorkflow) Approve(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time, window models.CertificationWindow) error {
	enrollment.Status = models.EnrollmentStatusApproved
	m.approved = enrollment
	m.window = window
	return nil
}

func (m *mockWorkflow) Reject(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time) error {
	enrollment.Status = models.EnrollmentStatusRejected
	m.rejected = enrollment
	return nil
}

type mockAuditor struct {
	actions []string
}

func (m *mockAuditor) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.actions = append(m.actions, log.Action)
	return nil
}

func newEnrollmentFixture(now time.Time) (*EnrollmentService, *mockTraderReader, *mockCourseReader, *mockEnrollmentReader, *mockWorkflow, *mockAuditor) {
	traders := &mockTraderReader{
		traders:       map[string]*models.Trader{},
		trainings:     map[string]*models.Training{},
		trainingDates: map[string]bool{},
	}
	courses := &mockCourseReader{
		courses:    map[string]*models.Course{},
		byCode:     map[string]*models.Course{},
		registered: map[string]bool{},
	}
	enrollments := &mockEnrollmentReader{enrollments: map[string]*models.Enrollment{}}
	workflow := &mockWorkflow{}
	auditor := &mockAuditor{}

	engine := NewTraderStatusEngine(time.UTC)
	engine.now = func() time.Time { return now }

	svc := NewEnrollmentService(traders, courses, enrollments, workflow, auditor, engine, nil, zap.NewNop(), EnrollmentConfig{})
	svc.now = func() time.Time { return now }
	return svc, traders, courses, enrollments, workflow, auditor
}

func TestRegisterForCourse(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	svc, traders, courses, _, workflow, auditor := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1", FullName: "Dana Reeve"}
	courses.courses["course-1"] = &models.Course{
		ID:             "course-1",
		Name:           "Order Flow Basics",
		CourseDate:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:          3,
		MaxSeats:       30,
		AvailableSeats: 5,
	}

	summary, err := svc.RegisterForCourse(context.Background(), "user-1", "course-1")
	require.NoError(t, err)
	require.NotNil(t, workflow.registered)
	assert.Equal(t, models.EnrollmentStatusPending, summary.Enrollment.Status)
	assert.Equal(t, 4, summary.Course.AvailableSeats)
	assert.Contains(t, auditor.actions, models.AuditActionRegisterCourse)
}

func TestRegisterForCoursePastDate(t *testing.T) {
	now := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	svc, traders, courses, _, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	courses.courses["course-1"] = &models.Course{
		ID:             "course-1",
		CourseDate:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		AvailableSeats: 5,
	}

	_, err := svc.RegisterForCourse(context.Background(), "user-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRegisterForCourseSeatsExhausted(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	svc, traders, courses, _, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	courses.courses["course-1"] = &models.Course{
		ID:             "course-1",
		CourseDate:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		AvailableSeats: 0,
	}

	_, err := svc.RegisterForCourse(context.Background(), "user-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSeatsExhausted.Code, appErrors.FromError(err).Code)
}

func TestRegisterForCourseDuplicate(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	svc, traders, courses, enrollments, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	courses.courses["course-1"] = &models.Course{
		ID:             "course-1",
		CourseDate:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		AvailableSeats: 5,
	}
	// Even a rejected enrollment blocks a second registration.
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusRejected}

	_, err := svc.RegisterForCourse(context.Background(), "user-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRegisterForCourseSameDayConflict(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	svc, traders, courses, _, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	traders.trainingDates["trader-1/2025-05-01"] = true
	courses.courses["course-1"] = &models.Course{
		ID:             "course-1",
		CourseDate:     time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		AvailableSeats: 5,
	}

	_, err := svc.RegisterForCourse(context.Background(), "user-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGenerateAttendanceCode(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC)
	svc, _, courses, _, _, auditor := newEnrollmentFixture(now)

	courses.courses["course-1"] = &models.Course{
		ID:         "course-1",
		CourseDate: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:      3,
	}

	code, err := svc.GenerateAttendanceCode(context.Background(), "admin-1", "course-1")
	require.NoError(t, err)
	assert.Len(t, code.Code, 6)
	assert.Equal(t, time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC), code.ExpiresAt)
	assert.Equal(t, courses.storedCode, code.Code)
	assert.Contains(t, auditor.actions, models.AuditActionCodeGenerate)
}

func TestGenerateAttendanceCodeOncePerSession(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc, _, courses, _, _, _ := newEnrollmentFixture(now)

	existing := "123456"
	issued := time.Date(2025, 5, 1, 9, 15, 0, 0, time.UTC)
	courses.courses["course-1"] = &models.Course{
		ID:              "course-1",
		CourseDate:      time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:           3,
		GeneratedCode:   &existing,
		CodeGeneratedAt: &issued,
	}

	_, err := svc.GenerateAttendanceCode(context.Background(), "admin-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGenerateAttendanceCodeOutsideWindow(t *testing.T) {
	svc, _, courses, _, _, _ := newEnrollmentFixture(time.Date(2025, 5, 1, 8, 59, 0, 0, time.UTC))
	courses.courses["course-1"] = &models.Course{
		ID:         "course-1",
		CourseDate: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:      3,
	}

	_, err := svc.GenerateAttendanceCode(context.Background(), "admin-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	svc.now = func() time.Time { return time.Date(2025, 5, 1, 14, 1, 0, 0, time.UTC) }
	_, err = svc.GenerateAttendanceCode(context.Background(), "admin-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeExpired.Code, appErrors.FromError(err).Code)
}

func TestValidateAttendanceCode(t *testing.T) {
	now := time.Date(2025, 5, 1, 11, 30, 0, 0, time.UTC)
	svc, _, courses, enrollments, workflow, auditor := newEnrollmentFixture(now)

	course := &models.Course{
		ID:         "course-1",
		CourseDate: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:      3,
	}
	courses.byCode["482913"] = course
	courses.registered["course-1/user-1"] = true
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}

	enrollment, err := svc.ValidateAttendanceCode(context.Background(), "user-1", "482913")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusValidated, enrollment.Status)
	require.NotNil(t, workflow.validated)
	assert.Contains(t, auditor.actions, models.AuditActionCodeValidate)
}

// Window edges: 3h course starting 09:00 with 2h grace is valid through
// exactly 14:00. One minute past fails expired, one minute early fails as
// not started.
func TestValidateAttendanceCodeWindowEdges(t *testing.T) {
	course := &models.Course{
		ID:         "course-1",
		CourseDate: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:      3,
	}

	cases := []struct {
		name string
		at   time.Time
		code string
	}{
		{"one minute early", time.Date(2025, 5, 1, 8, 59, 0, 0, time.UTC), appErrors.ErrPreconditionFailed.Code},
		{"one minute late", time.Date(2025, 5, 1, 14, 1, 0, 0, time.UTC), appErrors.ErrCodeExpired.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, courses, enrollments, _, _ := newEnrollmentFixture(tc.at)
			courses.byCode["482913"] = course
			courses.registered["course-1/user-1"] = true
			enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}

			_, err := svc.ValidateAttendanceCode(context.Background(), "user-1", "482913")
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}

	t.Run("exactly at close", func(t *testing.T) {
		svc, _, courses, enrollments, _, _ := newEnrollmentFixture(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
		courses.byCode["482913"] = course
		courses.registered["course-1/user-1"] = true
		enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}

		_, err := svc.ValidateAttendanceCode(context.Background(), "user-1", "482913")
		require.NoError(t, err)
	})
}

func TestValidateAttendanceCodeNotRegistered(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc, _, courses, _, _, _ := newEnrollmentFixture(now)

	courses.byCode["482913"] = &models.Course{
		ID:         "course-1",
		CourseDate: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
		Hours:      3,
	}

	_, err := svc.ValidateAttendanceCode(context.Background(), "user-1", "482913")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAdminActionApprove(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc, traders, courses, enrollments, workflow, auditor := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	traders.trainings["trader-1/course-1"] = &models.Training{ID: "tr-1", TraderID: "trader-1", CourseID: "course-1"}
	courses.courses["course-1"] = &models.Course{ID: "course-1"}
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusValidated}

	enrollment, err := svc.AdminAction(context.Background(), "admin-1", "user-1", "course-1", "approve")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, enrollment.Status)
	require.NotNil(t, workflow.approved)
	assert.Equal(t, time.Date(2027, 1, 10, 12, 0, 0, 0, time.UTC), workflow.window.EndDate)
	assert.Contains(t, auditor.actions, models.AuditActionEnrollApprove)
}

func TestAdminActionReject(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc, traders, courses, enrollments, workflow, auditor := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	traders.trainings["trader-1/course-1"] = &models.Training{ID: "tr-1", TraderID: "trader-1", CourseID: "course-1"}
	courses.courses["course-1"] = &models.Course{ID: "course-1"}
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", UserID: "user-1", CourseID: "course-1", Status: models.EnrollmentStatusPending}

	enrollment, err := svc.AdminAction(context.Background(), "admin-1", "user-1", "course-1", "reject")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, enrollment.Status)
	require.NotNil(t, workflow.rejected)
	assert.Contains(t, auditor.actions, models.AuditActionEnrollReject)
}

func TestAdminActionAlreadyProcessed(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc, traders, courses, enrollments, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	courses.courses["course-1"] = &models.Course{ID: "course-1"}
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusApproved}

	_, err := svc.AdminAction(context.Background(), "admin-1", "user-1", "course-1", "approve")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyProcessed.Code, appErrors.FromError(err).Code)
}

func TestCheckRegistrationCrossChecksSources(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc, traders, courses, enrollments, _, _ := newEnrollmentFixture(now)

	traders.traders["user-1"] = &models.Trader{ID: "trader-1", UserID: "user-1"}
	traders.trainings["trader-1/course-1"] = &models.Training{ID: "tr-1"}
	courses.registered["course-1/user-1"] = true
	enrollments.enrollments["user-1/course-1"] = &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusPending}

	status, err := svc.CheckRegistration(context.Background(), "user-1", models.RoleUser, "user-1", "course-1")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.True(t, status.EnrollmentRecord)
	assert.True(t, status.CourseMembership)
	assert.True(t, status.TrainingRecord)
	assert.Equal(t, models.EnrollmentStatusPending, status.Status)
}

func TestCheckRegistrationForbiddenForOtherUser(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	svc, _, _, _, _, _ := newEnrollmentFixture(now)

	_, err := svc.CheckRegistration(context.Background(), "user-2", models.RoleUser, "user-1", "course-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
