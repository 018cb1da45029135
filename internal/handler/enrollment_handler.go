package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tradecert/tradecert-api/internal/models"
	"github.com/tradecert/tradecert-api/internal/service"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
	"github.com/tradecert/tradecert-api/pkg/response"
)

// EnrollmentHandler exposes registration, attendance and approval endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Register godoc
// @Summary Register for course
// @Description Register the current user for a course, reserving one seat
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{id}/register [post]
func (h *EnrollmentHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	summary, err := h.enrollments.RegisterForCourse(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, summary)
}

// GenerateCode godoc
// @Summary Generate attendance code
// @Description Issue the single-use 6 digit attendance code for a course session
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/courses/{id}/code [post]
func (h *EnrollmentHandler) GenerateCode(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	code, err := h.enrollments.GenerateAttendanceCode(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, code, nil)
}

// ValidateCode godoc
// @Summary Validate attendance code
// @Description Validate the attendance code entered by the current user
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body map[string]string true "Attendance code"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /enrollments/validate [post]
func (h *EnrollmentHandler) ValidateCode(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "code required"))
		return
	}

	enrollment, err := h.enrollments.ValidateAttendanceCode(c.Request.Context(), claims.UserID, payload.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollment, nil)
}

// AdminAction godoc
// @Summary Approve or reject enrollment
// @Description Apply an admin decision to a validated or pending enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param courseId path string true "Course ID"
// @Param payload body map[string]string true "Action: approve or reject"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/enrollments/{userId}/courses/{courseId} [put]
func (h *EnrollmentHandler) AdminAction(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "action required"))
		return
	}

	enrollment, err := h.enrollments.AdminAction(c.Request.Context(), claims.UserID, c.Param("userId"), c.Param("courseId"), payload.Action)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ListAwaitingAction godoc
// @Summary List enrollments awaiting action
// @Description Pending and validated enrollments for the admin review queue
// @Tags Enrollments
// @Produce json
// @Param status query string false "Status filter"
// @Param course_id query string false "Course filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
func (h *EnrollmentHandler) ListAwaitingAction(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.CourseID = c.Query("course_id")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	enrollments, pagination, err := h.enrollments.ListAwaitingAction(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// History godoc
// @Summary Enrollment history
// @Description Enrollment history for a user, newest first
// @Tags Enrollments
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/enrollments [get]
func (h *EnrollmentHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	history, err := h.enrollments.EnrollmentHistory(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, history, nil)
}

// CheckRegistration godoc
// @Summary Check course registration
// @Description Report whether a user is registered for a course, cross-checked against enrollment, membership and training records
// @Tags Enrollments
// @Produce json
// @Param id path string true "User ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users/{id}/registrations/{courseId} [get]
func (h *EnrollmentHandler) CheckRegistration(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	status, err := h.enrollments.CheckRegistration(c.Request.Context(), claims.UserID, claims.Role, c.Param("id"), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}
