package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
	"github.com/tradecert/tradecert-api/pkg/export"
)

type traderProfileRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Trader, error)
	FindByID(ctx context.Context, id string) (*models.Trader, error)
	UpdateContact(ctx context.Context, trader *models.Trader) error
	SoftDelete(ctx context.Context, id string) error
	ListTrainings(ctx context.Context, traderID string) ([]models.Training, error)
	FindTraining(ctx context.Context, traderID, courseID string) (*models.Training, error)
}

type certificateStore interface {
	Save(filename string, data []byte) (string, error)
}

type certificateSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
}

// UpdateTraderRequest is the payload for editing a trader's contact info.
type UpdateTraderRequest struct {
	Company      string `json:"company"`
	FullName     string `json:"full_name" validate:"required"`
	GovernmentID string `json:"government_id"`
	Phone        string `json:"phone"`
	Email        string `json:"email" validate:"omitempty,email"`
}

// TraderService exposes trader profiles, training history, and
// certificate export.
type TraderService struct {
	repo      traderProfileRepository
	pdf       *export.CertificatePDF
	store     certificateStore
	signer    certificateSigner
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTraderService constructs a TraderService.
func NewTraderService(repo traderProfileRepository, pdf *export.CertificatePDF, store certificateStore, signer certificateSigner, validate *validator.Validate, logger *zap.Logger) *TraderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if pdf == nil {
		pdf = export.NewCertificatePDF()
	}
	return &TraderService{repo: repo, pdf: pdf, store: store, signer: signer, validator: validate, logger: logger, now: time.Now}
}

// Profile returns the trader with its training history.
func (s *TraderService) Profile(ctx context.Context, userID string) (*models.TraderDetail, error) {
	trader, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}
	if trader.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
	}

	trainings, err := s.repo.ListTrainings(ctx, trader.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trainings")
	}
	return &models.TraderDetail{Trader: *trader, Trainings: trainings}, nil
}

// UpdateContact edits the trader's contact fields.
func (s *TraderService) UpdateContact(ctx context.Context, userID string, req UpdateTraderRequest) (*models.Trader, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid trader payload")
	}

	trader, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}

	trader.Company = req.Company
	trader.FullName = req.FullName
	trader.GovernmentID = req.GovernmentID
	trader.Phone = req.Phone
	if req.Email != "" {
		trader.Email = req.Email
	}

	if err := s.repo.UpdateContact(ctx, trader); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update trader")
	}
	return trader, nil
}

// Delete soft-deletes a trader profile. Admin only; the user account stays.
func (s *TraderService) Delete(ctx context.Context, traderID string) error {
	if _, err := s.repo.FindByID(ctx, traderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "trader not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}
	if err := s.repo.SoftDelete(ctx, traderID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete trader")
	}
	return nil
}

// ExportCertificate renders a completion certificate PDF for one approved
// training and returns the stored path plus a signed download token.
func (s *TraderService) ExportCertificate(ctx context.Context, userID, courseID string) (string, string, error) {
	trader, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", appErrors.Clone(appErrors.ErrNotFound, "trader profile not found")
		}
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load trader")
	}

	training, err := s.repo.FindTraining(ctx, trader.ID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", appErrors.Clone(appErrors.ErrNotFound, "training not found")
		}
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load training")
	}
	if !training.IsCompleted {
		return "", "", appErrors.Clone(appErrors.ErrPreconditionFailed, "training is not completed")
	}
	if trader.StartDate == nil || trader.EndDate == nil {
		return "", "", appErrors.Clone(appErrors.ErrPreconditionFailed, "certification window is not set")
	}

	cert := export.Certificate{
		Number:         certificateNumber(trader.ID, training.CourseID),
		TraderName:     trader.FullName,
		TraderCompany:  trader.Company,
		CourseName:     training.CourseName,
		CourseLocation: training.Location,
		CourseHours:    training.Hours,
		CompletedAt:    training.ScheduledDate,
		ValidFrom:      *trader.StartDate,
		ValidUntil:     *trader.EndDate,
	}
	pdfBytes, err := s.pdf.Render(cert)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render certificate")
	}

	filename := fmt.Sprintf("certificates/%s/%s.pdf", trader.ID, training.CourseID)
	stored, err := s.store.Save(filename, pdfBytes)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store certificate")
	}

	token, _, err := s.signer.Generate(cert.Number, stored)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	s.logger.Info("certificate exported",
		zap.String("trader_id", trader.ID),
		zap.String("course_id", training.CourseID))
	return stored, token, nil
}

func certificateNumber(traderID, courseID string) string {
	t := strings.ToUpper(strings.ReplaceAll(traderID, "-", ""))
	c := strings.ToUpper(strings.ReplaceAll(courseID, "-", ""))
	if len(t) > 8 {
		t = t[:8]
	}
	if len(c) > 8 {
		c = c[:8]
	}
	return fmt.Sprintf("TC-%s-%s", t, c)
}
