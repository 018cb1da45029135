package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tradecert/tradecert-api/internal/models"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
)

const courseCachePrefix = "courses:published"

type courseCatalogRepository interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	SetPublished(ctx context.Context, id string, published bool) error
	SetImage(ctx context.Context, id, imagePath string) error
	SoftDelete(ctx context.Context, id string) error
}

type imageStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Delete(filename string) error
}

// CreateCourseRequest is the payload for adding a catalog entry.
type CreateCourseRequest struct {
	Name        string    `json:"name" validate:"required"`
	Code        string    `json:"code" validate:"required"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
	CourseDate  time.Time `json:"course_date" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Hours       int       `json:"hours" validate:"required,min=1,max=24"`
	MaxSeats    int       `json:"max_seats" validate:"required,min=1"`
	Tags        []string  `json:"tags"`
	ProductRef  *string   `json:"product_ref"`
	PriceRef    *string   `json:"price_ref"`
}

// UpdateCourseRequest is the payload for editing a catalog entry.
type UpdateCourseRequest struct {
	Name        string    `json:"name" validate:"required"`
	Code        string    `json:"code" validate:"required"`
	Description string    `json:"description"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
	CourseDate  time.Time `json:"course_date" validate:"required"`
	Location    string    `json:"location" validate:"required"`
	Hours       int       `json:"hours" validate:"required,min=1,max=24"`
	MaxSeats    int       `json:"max_seats" validate:"required,min=1"`
	Tags        []string  `json:"tags"`
	ProductRef  *string   `json:"product_ref"`
	PriceRef    *string   `json:"price_ref"`
}

// CourseService manages the catalog: CRUD, publishing, images, and the
// cached public listing.
type CourseService struct {
	repo      courseCatalogRepository
	cache     *CacheService
	images    imageStore
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewCourseService constructs a CourseService.
func NewCourseService(repo courseCatalogRepository, cache *CacheService, images imageStore, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CourseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CourseService{repo: repo, cache: cache, images: images, validator: validate, logger: logger, cacheTTL: cacheTTL}
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	return course, nil
}

type cachedCourseList struct {
	Courses []models.Course `json:"courses"`
	Total   int             `json:"total"`
}

// ListPublished returns the public catalog. Results are cached per filter;
// the boolean reports whether the response came from cache.
func (s *CourseService) ListPublished(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, bool, error) {
	filter.PublishedOnly = true
	key := courseListCacheKey(filter)

	var cached cachedCourseList
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached.Courses, cached.Total, true, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	if err := s.cache.Set(ctx, key, cachedCourseList{Courses: courses, Total: total}, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache course list", zap.Error(err))
	}
	return courses, total, false, nil
}

// List returns the full catalog for admins, deleted entries excluded.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, total, nil
}

// Create adds a catalog entry. New courses start unpublished with all
// seats available.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := &models.Course{
		Name:           req.Name,
		Code:           req.Code,
		Description:    req.Description,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		CourseDate:     req.CourseDate,
		Location:       req.Location,
		Hours:          req.Hours,
		MaxSeats:       req.MaxSeats,
		AvailableSeats: req.MaxSeats,
		Tags:           pq.StringArray(req.Tags),
		ProductRef:     req.ProductRef,
		PriceRef:       req.PriceRef,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	s.invalidateListCache(ctx)
	return course, nil
}

// Update edits a catalog entry. Seat counts already taken are preserved:
// shrinking max_seats below the taken count is rejected.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	taken := course.MaxSeats - course.AvailableSeats
	if req.MaxSeats < taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("%d seats already taken", taken))
	}

	course.Name = req.Name
	course.Code = req.Code
	course.Description = req.Description
	course.StartDate = req.StartDate
	course.EndDate = req.EndDate
	course.CourseDate = req.CourseDate
	course.Location = req.Location
	course.Hours = req.Hours
	course.MaxSeats = req.MaxSeats
	course.AvailableSeats = req.MaxSeats - taken
	course.Tags = pq.StringArray(req.Tags)
	course.ProductRef = req.ProductRef
	course.PriceRef = req.PriceRef

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	s.invalidateListCache(ctx)
	return course, nil
}

// SetPublished toggles public visibility.
func (s *CourseService) SetPublished(ctx context.Context, id string, published bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetPublished(ctx, id, published); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish course")
	}
	s.invalidateListCache(ctx)
	return nil
}

// UploadImage stores a course image and records its path.
func (s *CourseService) UploadImage(ctx context.Context, id, originalName string, r io.Reader) (string, error) {
	course, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unsupported image type")
	}

	filename := filepath.Join("courses", course.ID, uuid.NewString()+ext)
	stored, err := s.images.SaveStream(filename, r)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store image")
	}

	if err := s.repo.SetImage(ctx, course.ID, stored); err != nil {
		if cleanupErr := s.images.Delete(stored); cleanupErr != nil {
			s.logger.Warn("failed to remove orphaned image", zap.String("path", stored), zap.Error(cleanupErr))
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record image")
	}

	if course.ImagePath != nil && *course.ImagePath != stored {
		if err := s.images.Delete(*course.ImagePath); err != nil {
			s.logger.Warn("failed to remove previous image", zap.String("path", *course.ImagePath), zap.Error(err))
		}
	}
	s.invalidateListCache(ctx)
	return stored, nil
}

// Delete soft-deletes a catalog entry.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	s.invalidateListCache(ctx)
	return nil
}

func (s *CourseService) invalidateListCache(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, courseCachePrefix+"*"); err != nil {
		s.logger.Warn("failed to invalidate course cache", zap.Error(err))
	}
}

func courseListCacheKey(filter models.CourseFilter) string {
	return fmt.Sprintf("%s:p%d:s%d:q=%s:t=%s:%s:%s",
		courseCachePrefix, filter.Page, filter.PageSize, filter.Search, filter.Tag, filter.SortBy, filter.SortOrder)
}
