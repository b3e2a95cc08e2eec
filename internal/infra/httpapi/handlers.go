package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"road_anomaly_reconciler/internal/app"
	"road_anomaly_reconciler/internal/domain/report"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ReportService is the application surface served over HTTP.
type ReportService interface {
	SubmitReport(ctx context.Context, req app.SubmitRequest) (*report.Outcome, error)
	ListByLocality(ctx context.Context, locality string, limit int) ([]app.ReportView, error)
	SummarizeLocalities(ctx context.Context) ([]report.LocalitySummary, error)
}

type ReportHandler struct {
	service ReportService
	log     *logrus.Entry
}

func NewReportHandler(service ReportService, log *logrus.Entry) *ReportHandler {
	return &ReportHandler{service: service, log: log}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ReportHandler) Submit(c *gin.Context) {
	var req app.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	outcome, err := h.service.SubmitReport(c.Request.Context(), req)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	RespondOK(c, outcome)
}

func (h *ReportHandler) ListByLocality(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	views, err := h.service.ListByLocality(c.Request.Context(), c.Param("locality"), limit)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"reports": views})
}

func (h *ReportHandler) Summary(c *gin.Context) {
	summaries, err := h.service.SummarizeLocalities(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"localities": summaries})
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
func (h *ReportHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidReport):
		RespondError(c, http.StatusBadRequest, "invalid_report", err)
	case report.IsRetryable(err):
		h.log.WithError(err).Warn("Transient store failure")
		RespondError(c, http.StatusServiceUnavailable, "store_unavailable", errors.New("report store temporarily unavailable, retry later"))
	default:
		h.log.WithError(err).Error("Request failed")
		RespondError(c, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
