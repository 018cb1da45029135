package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	"github.com/tradecert/tradecert-api/internal/repository"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

type enrollmentTraderRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Trader, error)
	FindTraining(ctx context.Context, traderID, courseID string) (*models.Training, error)
	HasTrainingOnDate(ctx context.Context, traderID string, date time.Time) (bool, error)
}

type enrollmentCourseRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByGeneratedCode(ctx context.Context, code string) (*models.Course, error)
	SetGeneratedCode(ctx context.Context, id, code string, issuedAt time.Time) error
	IsRegistered(ctx context.Context, courseID, userID string) (bool, error)
}

type enrollmentReader interface {
	FindByUserAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	Exists(ctx context.Context, userID, courseID string) (bool, error)
	ListAwaitingAction(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	HistoryByUser(ctx context.Context, userID string) ([]models.EnrollmentDetail, error)
}

type enrollmentWorkflow interface {
	Register(ctx context.Context, enrollment *models.Enrollment, training *models.Training) error
	Validate(ctx context.Context, enrollment *models.Enrollment, code string, validatedAt time.Time) error
	Approve(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time, window models.CertificationWindow) error
	Reject(ctx context.Context, enrollment *models.Enrollment, traderID, adminID string, verifiedAt time.Time) error
}

type enrollmentAuditor interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// EnrollmentConfig tunes the attendance-code window.
type EnrollmentConfig struct {
	CodeGrace time.Duration
	Location  *time.Location
}

// EnrollmentService drives the enrollment state machine from registration
// through attendance validation to the admin decision.
type EnrollmentService struct {
	traders     enrollmentTraderRepository
	courses     enrollmentCourseRepository
	enrollments enrollmentReader
	workflow    enrollmentWorkflow
	auditor     enrollmentAuditor
	engine      *TraderStatusEngine
	metrics     *MetricsService
	logger      *zap.Logger
	config      EnrollmentConfig
	now         func() time.Time
}

// NewEnrollmentService constructs an EnrollmentService.
func NewEnrollmentService(
	traders enrollmentTraderRepository,
	courses enrollmentCourseRepository,
	enrollments enrollmentReader,
	workflow enrollmentWorkflow,
	auditor enrollmentAuditor,
	engine *TraderStatusEngine,
	metrics *MetricsService,
	logger *zap.Logger,
	config EnrollmentConfig,
) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CodeGrace <= 0 {
		config.CodeGrace = 2 * time.Hour
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &EnrollmentService{
		traders:     traders,
		courses:     courses,
		enrollments: enrollments,
		workflow:    workflow,
		auditor:     auditor,
		engine:      engine,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// RegisterForCourse runs the ordered registration preconditions and, when
// they all pass, performs the seat-take and record creation as one unit.
func (s *EnrollmentService) RegisterForCourse(ctx context.Context, userID, courseID string) (*models.RegistrationSummary, error) {
	trader, err := s.traders.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}
	if trader.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}

	now := s.now().In(s.config.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.config.Location)
	courseDay := course.CourseDate.In(s.config.Location)
	courseDay = time.Date(courseDay.Year(), courseDay.Month(), courseDay.Day(), 0, 0, 0, 0, s.config.Location)
	if courseDay.Before(today) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course date has already passed")
	}

	if course.AvailableSeats <= 0 {
		return nil, appErrors.Clone(appErrors.ErrSeatsExhausted, "")
	}

	exists, err := s.enrollments.Exists(ctx, userID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already registered for this course")
	}

	if _, err := s.traders.FindTraining(ctx, trader.ID, courseID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "training already recorded for this course")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check trainings")
	}

	sameDay, err := s.traders.HasTrainingOnDate(ctx, trader.ID, course.CourseDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check training dates")
	}
	if sameDay {
		return nil, appErrors.Clone(appErrors.ErrConflict, "another course is already booked on this date")
	}

	enrollment := &models.Enrollment{
		UserID:     userID,
		CourseID:   courseID,
		EnrollDate: now.UTC(),
	}
	training := &models.Training{
		TraderID:      trader.ID,
		CourseID:      course.ID,
		CourseName:    course.Name,
		Description:   course.Description,
		Location:      course.Location,
		Hours:         course.Hours,
		ScheduledDate: course.CourseDate,
	}

	if err := s.workflow.Register(ctx, enrollment, training); err != nil {
		switch {
		case errors.Is(err, repository.ErrNoSeats):
			s.metrics.RecordSeatConflict()
			return nil, appErrors.Clone(appErrors.ErrSeatsExhausted, "")
		case errors.Is(err, repository.ErrDuplicateEnrollment):
			return nil, appErrors.Clone(appErrors.ErrConflict, "already registered for this course")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "registration failed")
		}
	}

	course.AvailableSeats--
	s.metrics.RecordTransition(models.EnrollmentStatusPending)
	s.audit(ctx, userID, models.AuditActionRegisterCourse, "enrollment", enrollment.ID)

	return &models.RegistrationSummary{
		Enrollment: *enrollment,
		Trader:     *trader,
		Course:     *course,
	}, nil
}

// GenerateAttendanceCode draws the single session code for a course. One
// code per session: regenerating while a code's window is still open fails.
func (s *EnrollmentService) GenerateAttendanceCode(ctx context.Context, adminID, courseID string) (*models.AttendanceCode, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if course.CourseDate.IsZero() || course.Hours <= 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course schedule is incomplete")
	}

	now := s.now().In(s.config.Location)
	start, end := s.codeWindow(course)
	if now.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course has not started yet")
	}
	if now.After(end) {
		return nil, appErrors.Clone(appErrors.ErrCodeExpired, "course session window has closed")
	}

	if course.GeneratedCode != nil && course.CodeGeneratedAt != nil {
		issued := course.CodeGeneratedAt.In(s.config.Location)
		if !issued.Before(start) && !issued.After(end) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a code was already generated for this session")
		}
	}

	code, err := drawAttendanceCode()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to draw code")
	}

	if err := s.courses.SetGeneratedCode(ctx, course.ID, code, now.UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store code")
	}

	s.audit(ctx, adminID, models.AuditActionCodeGenerate, "course", course.ID)

	return &models.AttendanceCode{
		CourseID:  course.ID,
		Code:      code,
		IssuedAt:  now.UTC(),
		ExpiresAt: end.UTC(),
	}, nil
}

// ValidateAttendanceCode moves a pending enrollment to validated when the
// entered code matches and the session window is still open.
func (s *EnrollmentService) ValidateAttendanceCode(ctx context.Context, userID, enteredCode string) (*models.Enrollment, error) {
	course, err := s.courses.FindByGeneratedCode(ctx, enteredCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "code not recognized")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up code")
	}

	registered, err := s.courses.IsRegistered(ctx, course.ID, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check registration")
	}
	if !registered {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not registered for this course")
	}

	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, course.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "enrollment is not pending")
	}

	now := s.now().In(s.config.Location)
	start, end := s.codeWindow(course)
	if now.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "course has not started yet")
	}
	if now.After(end) {
		return nil, appErrors.Clone(appErrors.ErrCodeExpired, "")
	}

	if err := s.workflow.Validate(ctx, enrollment, enteredCode, now.UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate enrollment")
	}

	s.metrics.RecordTransition(models.EnrollmentStatusValidated)
	s.audit(ctx, userID, models.AuditActionCodeValidate, "enrollment", enrollment.ID)
	return enrollment, nil
}

// AdminAction approves or rejects an actionable enrollment. Approval runs
// the certification window recomputation; rejection returns the seat and
// removes the training record.
func (s *EnrollmentService) AdminAction(ctx context.Context, adminID, userID, courseID, action string) (*models.Enrollment, error) {
	if action != "approve" && action != "reject" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be approve or reject")
	}

	trader, err := s.traders.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}

	if _, err := s.courses.FindByID(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Status.Actionable() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "")
	}

	if _, err := s.traders.FindTraining(ctx, trader.ID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "training record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}

	verifiedAt := s.now().UTC()

	if action == "approve" {
		window := s.engine.NextWindow(trader)
		if err := s.workflow.Approve(ctx, enrollment, trader.ID, adminID, verifiedAt, window); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "approval failed")
		}
		s.logger.Info("enrollment approved",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("trader_id", trader.ID),
			zap.Time("window_end", window.EndDate))
		s.metrics.RecordTransition(models.EnrollmentStatusApproved)
		s.audit(ctx, adminID, models.AuditActionEnrollApprove, "enrollment", enrollment.ID)
		return enrollment, nil
	}

	if err := s.workflow.Reject(ctx, enrollment, trader.ID, adminID, verifiedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "rejection failed")
	}
	s.metrics.RecordTransition(models.EnrollmentStatusRejected)
	s.audit(ctx, adminID, models.AuditActionEnrollReject, "enrollment", enrollment.ID)
	return enrollment, nil
}

// ListAwaitingAction returns pending and validated enrollments for review.
func (s *EnrollmentService) ListAwaitingAction(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Actionable() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status filter must be PENDING or VALIDATED")
	}
	details, total, err := s.enrollments.ListAwaitingAction(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return details, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// EnrollmentHistory returns a user's enrollments. Regular users can only
// read their own history.
func (s *EnrollmentService) EnrollmentHistory(ctx context.Context, callerID string, callerRole models.UserRole, userID string) ([]models.EnrollmentDetail, error) {
	if callerRole != models.RoleAdmin && callerID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's history")
	}
	history, err := s.enrollments.HistoryByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load history")
	}
	return history, nil
}

// CheckRegistration reports registration status cross-checked against the
// enrollment record, the course membership, and the training history.
func (s *EnrollmentService) CheckRegistration(ctx context.Context, callerID string, callerRole models.UserRole, userID, courseID string) (*models.RegistrationStatus, error) {
	if callerRole != models.RoleAdmin && callerID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot read another user's registration")
	}

	status := &models.RegistrationStatus{}

	enrollment, err := s.enrollments.FindByUserAndCourse(ctx, userID, courseID)
	switch {
	case err == nil:
		status.EnrollmentRecord = true
		status.Status = enrollment.Status
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	registered, err := s.courses.IsRegistered(ctx, courseID, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check course membership")
	}
	status.CourseMembership = registered

	if trader, err := s.traders.FindByUserID(ctx, userID); err == nil {
		if _, err := s.traders.FindTraining(ctx, trader.ID, courseID); err == nil {
			status.TrainingRecord = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check trainings")
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}

	status.Registered = status.EnrollmentRecord
	if status.EnrollmentRecord != status.CourseMembership || status.EnrollmentRecord != status.TrainingRecord {
		s.logger.Warn("registration sources disagree",
			zap.String("user_id", userID),
			zap.String("course_id", courseID),
			zap.Bool("enrollment", status.EnrollmentRecord),
			zap.Bool("membership", status.CourseMembership),
			zap.Bool("training", status.TrainingRecord))
	}
	return status, nil
}

// codeWindow returns the attendance-code validity interval for a course
// session: course start through course end plus the grace period.
func (s *EnrollmentService) codeWindow(course *models.Course) (time.Time, time.Time) {
	start := course.CourseDate.In(s.config.Location)
	end := start.Add(time.Duration(course.Hours)*time.Hour + s.config.CodeGrace)
	return start, end
}

func (s *EnrollmentService) audit(ctx context.Context, actorID, action, resource, resourceID string) {
	if err := s.auditor.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

// drawAttendanceCode returns a uniform 6-digit decimal code.
func drawAttendanceCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
