package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradecert/tradecert-api/internal/models"
	"github.com/tradecert/tradecert-api/internal/service"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
	"github.com/tradecert/tradecert-api/pkg/response"
)

// PaymentHandler exposes checkout and payment ledger endpoints.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// CreateCheckout godoc
// @Summary Open checkout session
// @Description Open a checkout session for a published course
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body map[string]string true "Course ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /payments/checkout [post]
func (h *PaymentHandler) CreateCheckout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var payload struct {
		CourseID string `json:"course_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "course_id required"))
		return
	}

	session, err := h.payments.CreateCheckoutSession(c.Request.Context(), claims.UserID, payload.CourseID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, session)
}

// Webhook godoc
// @Summary Payment gateway webhook
// @Description Apply a normalized gateway event to the payment ledger
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body models.GatewayEvent true "Gateway event"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	var event models.GatewayEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid event payload"))
		return
	}

	payment, err := h.payments.HandleGatewayEvent(c.Request.Context(), event)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, payment, nil)
}

// List godoc
// @Summary List payments
// @Description Payment ledger entries, scoped to the caller unless admin
// @Tags Payments
// @Produce json
// @Param user_id query string false "User filter (admin only)"
// @Param course_id query string false "Course filter"
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.PaymentFilter
	filter.UserID = c.Query("user_id")
	filter.CourseID = c.Query("course_id")
	filter.Status = models.PaymentStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	payments, pagination, err := h.payments.List(c.Request.Context(), claims.UserID, claims.Role, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, payments, pagination)
}
