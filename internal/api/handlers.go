package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/scheduler"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/sources"
)

// JobController starts and cancels jobs.
type JobController interface {
	Trigger(ctx context.Context, sourceID, actor string) (string, error)
	Cancel(ctx context.Context, jobID string) error
	ActiveJobs() map[string]string
}

// DueLister answers which sources are due.
type DueLister interface {
	DueSources(ctx context.Context, now time.Time) ([]domain.Source, error)
}

// JobReader reads jobs and their logs.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, f database.JobFilter) ([]domain.Job, int, error)
	ListLogs(ctx context.Context, jobID string) ([]domain.LogEntry, error)
}

// ContentReader reads staged content.
type ContentReader interface {
	ListContent(ctx context.Context, f database.ContentFilter) ([]domain.Content, int, error)
}

// Handler serves the /api/v1 routes.
type Handler struct {
	jobs    JobController
	due     DueLister
	jobRepo JobReader
	content ContentReader
	now     func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(jobs JobController, due DueLister, jobRepo JobReader, content ContentReader) *Handler {
	return &Handler{
		jobs:    jobs,
		due:     due,
		jobRepo: jobRepo,
		content: content,
		now:     time.Now,
	}
}

type triggerRequest struct {
	Actor string `json:"actor"`
}

// TriggerCrawl handles POST /api/v1/sources/:id/crawl
func (h *Handler) TriggerCrawl(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	jobID, err := h.jobs.Trigger(c.Request.Context(), c.Param("id"), req.Actor)
	if err != nil {
		var ve *sources.ValidationError
		switch {
		case errors.Is(err, domain.ErrSourceNotFound):
			respondNotFound(c, "Source")
		case errors.Is(err, scheduler.ErrJobAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{
				"error":  err.Error(),
				"job_id": h.jobs.ActiveJobs()[c.Param("id")],
			})
		case errors.As(err, &ve):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": ve.Error(),
				"field": ve.Field,
			})
		case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrPoolNotRunning):
			respondError(c, http.StatusServiceUnavailable, err.Error())
		default:
			respondInternalError(c, "Failed to start crawl", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// ListDueSources handles GET /api/v1/sources/due
func (h *Handler) ListDueSources(c *gin.Context) {
	due, err := h.due.DueSources(c.Request.Context(), h.now())
	if err != nil {
		respondInternalError(c, "Failed to list due sources", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": due,
		"total":   len(due),
	})
}

// ListJobs handles GET /api/v1/jobs
func (h *Handler) ListJobs(c *gin.Context) {
	limit, offset := parseLimitOffset(c)
	status := domain.JobStatus(c.Query("status"))
	if status != "" && !status.IsActive() && !status.IsTerminal() {
		respondBadRequest(c, "Invalid status: "+string(status))
		return
	}

	jobs, total, err := h.jobRepo.ListJobs(c.Request.Context(), database.JobFilter{
		SourceID: c.Query("source_id"),
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondInternalError(c, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	ctx := c.Request.Context()

	j, err := h.jobRepo.GetJob(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondNotFound(c, "Job")
			return
		}
		respondInternalError(c, "Failed to get job", err)
		return
	}

	if j.Log, err = h.jobRepo.ListLogs(ctx, j.ID); err != nil {
		respondInternalError(c, "Failed to get job log", err)
		return
	}

	c.JSON(http.StatusOK, j)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *Handler) CancelJob(c *gin.Context) {
	id := c.Param("id")

	if err := h.jobs.Cancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			respondNotFound(c, "Job")
		case errors.Is(err, scheduler.ErrJobNotActive), errors.Is(err, scheduler.ErrJobNotOwned):
			respondError(c, http.StatusConflict, err.Error())
		default:
			respondInternalError(c, "Failed to cancel job", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": id,
		"status": "cancelling",
	})
}

// ListContent handles GET /api/v1/content
func (h *Handler) ListContent(c *gin.Context) {
	limit, offset := parseLimitOffset(c)
	status := domain.ContentStatus(c.Query("status"))
	switch status {
	case "", domain.ContentStatusPending, domain.ContentStatusApproved,
		domain.ContentStatusRejected, domain.ContentStatusProcessed:
	default:
		respondBadRequest(c, "Invalid status: "+string(status))
		return
	}

	items, total, err := h.content.ListContent(c.Request.Context(), database.ContentFilter{
		Status:   status,
		JobID:    c.Query("job_id"),
		SourceID: c.Query("source_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondInternalError(c, "Failed to list content", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content": items,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}
