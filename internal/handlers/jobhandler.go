package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/justsurfingit/career-tracker/internal/apperr"
	"github.com/justsurfingit/career-tracker/internal/dtos"
	"github.com/justsurfingit/career-tracker/internal/export"
	"github.com/justsurfingit/career-tracker/internal/models"
	"github.com/justsurfingit/career-tracker/internal/stats"
)

const (
	msgExtractionUnavailable = "Extraction unavailable"
	msgExtractionFailed      = "Extraction failed"
	msgRawHTMLRequired       = "Please provide raw_html"
)

// JobStore is the persistence gateway the API is built on.
type JobStore interface {
	List(ctx context.Context) ([]models.Job, error)
	Create(ctx context.Context, req *dtos.JobCreationRequest) (*models.Job, error)
	Update(ctx context.Context, id string, req *dtos.JobUpdateRequest) (*models.Job, error)
	Delete(ctx context.Context, id string) error
}

// Extractor prefills the job form from a raw posting.
type Extractor interface {
	ExtractJobDetails(ctx context.Context, rawHTML string) (*dtos.ExtractedJob, error)
}

type JobHandler struct {
	Jobs      JobStore
	Extractor Extractor
	log       *zap.Logger
}

// NewJobHandler creates the handler. extractor may be nil, in which case
// the extract endpoint answers 503.
func NewJobHandler(jobs JobStore, extractor Extractor, log *zap.Logger) *JobHandler {
	return &JobHandler{Jobs: jobs, Extractor: extractor, log: log}
}

// RegisterRoutes mounts the job endpoints under rg (normally /api).
func (h *JobHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/health", h.HealthCheck)

	jobs := rg.Group("/jobs")
	jobs.GET("", h.ListJobs)
	jobs.POST("", h.CreateJob)
	jobs.GET("/stats", h.JobStats)
	jobs.GET("/export", h.ExportJobs)
	jobs.POST("/extract", h.ParseJob)
	jobs.PUT("/:id", h.UpdateJob)
	jobs.DELETE("/:id", h.DeleteJob)
}

func (h *JobHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"status": "ok"}})
}

// ListJobs is GET /api/jobs.
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(jobs), "data": jobs})
}

// CreateJob is POST /api/jobs.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dtos.JobCreationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	job, err := h.Jobs.Create(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": job})
}

// UpdateJob is PUT /api/jobs/:id. Absent fields are left unchanged.
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req dtos.JobUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	job, err := h.Jobs.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// DeleteJob is DELETE /api/jobs/:id.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	if err := h.Jobs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{}})
}

// JobStats is GET /api/jobs/stats.
func (h *JobHandler) JobStats(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats.Summarize(jobs)})
}

// ExportJobs is GET /api/jobs/export. Dates use the short format of the
// best Accept-Language match, in the time zone named by ?tz (UTC default).
func (h *JobHandler) ExportJobs(c *gin.Context) {
	jobs, err := h.Jobs.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	opts := export.Options{
		DateLayout: export.DateLayout(c.GetHeader("Accept-Language")),
		Location:   time.UTC,
	}
	if tz := c.Query("tz"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			opts.Location = loc
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, jobs, opts); err != nil {
		h.log.Error("csv export interrupted", zap.Error(err))
	}
}

// ParseJob is POST /api/jobs/extract.
func (h *JobHandler) ParseJob(c *gin.Context) {
	if h.Extractor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": msgExtractionUnavailable})
		return
	}

	var req dtos.JobExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	if strings.TrimSpace(req.RawHTML) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msgRawHTMLRequired})
		return
	}

	job, err := h.Extractor.ExtractJobDetails(c.Request.Context(), req.RawHTML)
	if err != nil {
		h.log.Warn("job extraction failed", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": msgExtractionFailed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// fail writes the error envelope. Causes of server errors are logged and
// never sent to the client.
func (h *JobHandler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"success": false, "error": apperr.ClientMessage(err)})
}

// bindError turns a request decoding failure into a validation error that
// names the offending field where possible.
func bindError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperr.Validation(fmt.Sprintf("Job validation failed: %s: expected %s, got %s",
			typeErr.Field, typeErr.Type.String(), typeErr.Value))
	}

	var timeErr *time.ParseError
	if errors.As(err, &timeErr) {
		return apperr.Validation("Job validation failed: dateApplied: invalid date")
	}

	return apperr.Validation("Invalid JSON format")
}
