package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutorstack/tutorstack-api/internal/service"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
	"github.com/tutorstack/tutorstack-api/pkg/response"
)

// ExportHandler wires schedule and financial export endpoints.
type ExportHandler struct {
	service *service.ExportService
}

// NewExportHandler creates a new handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// Schedule downloads the course session calendar as CSV or PDF.
func (h *ExportHandler) Schedule(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	result, err := h.service.Schedule(c.Request.Context(), identity, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	serveDownload(c, result)
}

// Financials downloads the derived financial summary as CSV or PDF.
func (h *ExportHandler) Financials(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	result, err := h.service.Financials(c.Request.Context(), identity, c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	serveDownload(c, result)
}

func serveDownload(c *gin.Context, result *service.ExportResult) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Content)
}
