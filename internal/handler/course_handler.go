package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradecert/tradecert-api/internal/middleware"
	"github.com/tradecert/tradecert-api/internal/models"
	"github.com/tradecert/tradecert-api/internal/service"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
	"github.com/tradecert/tradecert-api/pkg/response"
)

// CourseHandler exposes the course catalog endpoints.
type CourseHandler struct {
	courses *service.CourseService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses *service.CourseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

func courseFilterFromQuery(c *gin.Context) models.CourseFilter {
	var filter models.CourseFilter
	filter.Search = c.Query("search")
	filter.Tag = c.Query("tag")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")
	return filter
}

// ListPublished godoc
// @Summary List published courses
// @Description Published catalog with seat availability, served from cache when possible
// @Tags Courses
// @Produce json
// @Param search query string false "Search term"
// @Param tag query string false "Tag filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) ListPublished(c *gin.Context) {
	filter := courseFilterFromQuery(c)
	filter.PublishedOnly = true

	courses, total, fromCache, err := h.courses.ListPublished(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetCacheHit(c, fromCache)
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, courses, pagination, middleware.ExtractMeta(c))
}

// ListAll godoc
// @Summary List all courses
// @Description Full catalog including drafts, admin only
// @Tags Courses
// @Produce json
// @Param search query string false "Search term"
// @Param tag query string false "Tag filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/courses [get]
func (h *CourseHandler) ListAll(c *gin.Context) {
	filter := courseFilterFromQuery(c)

	courses, total, err := h.courses.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Create payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.UpdateCourseRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	course, err := h.courses.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, course, nil)
}

// SetPublished godoc
// @Summary Publish or unpublish course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body map[string]bool true "Published flag"
// @Success 204 {object} response.Envelope
// @Router /admin/courses/{id}/publish [put]
func (h *CourseHandler) SetPublished(c *gin.Context) {
	var payload struct {
		Published *bool `json:"published" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "published flag required"))
		return
	}

	if err := h.courses.SetPublished(c.Request.Context(), c.Param("id"), *payload.Published); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// UploadImage godoc
// @Summary Upload course image
// @Tags Courses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Course ID"
// @Param image formData file true "Course image"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/courses/{id}/image [post]
func (h *CourseHandler) UploadImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "image file required"))
		return
	}

	src, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer src.Close()

	path, err := h.courses.UploadImage(c.Request.Context(), c.Param("id"), file.Filename, src)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"image_path": path}, nil)
}

// Delete godoc
// @Summary Delete course
// @Description Soft delete a course and remove it from the catalog
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
