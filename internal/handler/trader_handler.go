package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradecert/tradecert-api/internal/service"
	appErrors "github.com/tradecert/tradecert-api/pkg/errors"
	"github.com/tradecert/tradecert-api/pkg/response"
	"github.com/tradecert/tradecert-api/pkg/storage"
)

// TraderHandler exposes trader profile and certificate endpoints.
type TraderHandler struct {
	traders *service.TraderService
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
}

// NewTraderHandler constructs TraderHandler.
func NewTraderHandler(traders *service.TraderService, store *storage.LocalStorage, signer *storage.SignedURLSigner) *TraderHandler {
	return &TraderHandler{traders: traders, store: store, signer: signer}
}

// Me godoc
// @Summary Current trader profile
// @Description Trader profile with training history and certification window
// @Tags Traders
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /traders/me [get]
func (h *TraderHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	detail, err := h.traders.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// Profile godoc
// @Summary Trader profile by user
// @Tags Traders
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/trader [get]
func (h *TraderHandler) Profile(c *gin.Context) {
	detail, err := h.traders.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detail, nil)
}

// UpdateMe godoc
// @Summary Update trader contact info
// @Tags Traders
// @Accept json
// @Produce json
// @Param payload body service.UpdateTraderRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /traders/me [put]
func (h *TraderHandler) UpdateMe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	trader, err := h.traders.UpdateContact(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, trader, nil)
}

// Delete godoc
// @Summary Delete trader profile
// @Description Soft delete a trader profile
// @Tags Traders
// @Produce json
// @Param id path string true "Trader ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /traders/{id} [delete]
func (h *TraderHandler) Delete(c *gin.Context) {
	if err := h.traders.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ExportCertificate godoc
// @Summary Export completion certificate
// @Description Render the certificate PDF for an approved training and return a signed download token
// @Tags Traders
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /traders/me/certificates/{courseId} [post]
func (h *TraderHandler) ExportCertificate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	path, token, err := h.traders.ExportCertificate(c.Request.Context(), claims.UserID, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"path":           path,
		"download_token": token,
	}, nil)
}

// DownloadCertificate godoc
// @Summary Download certificate
// @Description Stream a certificate PDF using a signed token
// @Tags Traders
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /certificates/download [get]
func (h *TraderHandler) DownloadCertificate(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}

	_, relPath, _, err := h.signer.Parse(token, false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token"))
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.File(h.store.Path(relPath))
}
