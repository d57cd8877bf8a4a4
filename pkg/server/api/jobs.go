// Package api exposes the job queue over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/jobqueue/pkg/controller"
	"github.com/nimburion/jobqueue/pkg/jobs"
	"github.com/nimburion/jobqueue/pkg/observability/logger"
)

const (
	// DefaultListLimit caps GET /jobs when no limit is given.
	DefaultListLimit = 100
	// MaxListLimit is the largest accepted limit.
	MaxListLimit = 1000
	// DefaultMaxRequestSize bounds the enqueue body when none is configured.
	DefaultMaxRequestSize int64 = 1 << 20
)

// Queue is the part of jobs.Manager the HTTP layer needs.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts jobs.EnqueueOptions) (string, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, status jobs.Status, limit int) ([]*jobs.Job, error)
	Stats() jobs.Stats
}

// EnqueueRequest is the POST /jobs body.
type EnqueueRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    string          `json:"priority,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	// Timeout is a Go duration string such as "45s".
	Timeout string `json:"timeout,omitempty"`
}

// EnqueueResponse is returned with 202 Accepted.
type EnqueueResponse struct {
	ID     string      `json:"id"`
	Status jobs.Status `json:"status"`
}

// ListResponse is the body of GET /jobs.
type ListResponse struct {
	Jobs  []*jobs.Job `json:"jobs"`
	Count int         `json:"count"`
}

// Handler serves the job endpoints.
type Handler struct {
	queue          Queue
	log            logger.Logger
	maxRequestSize int64
}

// NewHandler creates a Handler. maxRequestSize <= 0 uses DefaultMaxRequestSize.
func NewHandler(queue Queue, log logger.Logger, maxRequestSize int64) *Handler {
	if maxRequestSize <= 0 {
		maxRequestSize = DefaultMaxRequestSize
	}
	return &Handler{queue: queue, log: log, maxRequestSize: maxRequestSize}
}

// Register mounts the routes on r.
func (h *Handler) Register(r gin.IRouter) {
	group := r.Group("/jobs")
	group.POST("", h.enqueue)
	group.GET("", h.list)
	group.GET("/stats", h.stats)
	group.GET("/:id", h.get)
}

func (h *Handler) enqueue(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestSize)

	var req EnqueueRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, err)
			return
		}
		h.fail(c, controller.NewValidationError("request body must be a JSON object"))
		return
	}

	opts, err := req.options()
	if err != nil {
		h.fail(c, err)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		h.fail(c, controller.NewValidationError("type is required"))
		return
	}

	id, err := h.queue.Enqueue(c.Request.Context(), req.Type, req.Payload, opts)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Location", "/jobs/"+id)
	c.JSON(http.StatusAccepted, EnqueueResponse{ID: id, Status: jobs.StatusPending})
}

func (r EnqueueRequest) options() (jobs.EnqueueOptions, error) {
	priority, err := jobs.ParsePriority(r.Priority)
	if err != nil {
		return jobs.EnqueueOptions{}, err
	}
	if r.MaxAttempts < 0 {
		return jobs.EnqueueOptions{}, controller.NewValidationError("max_attempts must not be negative")
	}
	opts := jobs.EnqueueOptions{Priority: priority, MaxAttempts: r.MaxAttempts}
	if r.Timeout != "" {
		timeout, err := time.ParseDuration(r.Timeout)
		if err != nil || timeout <= 0 {
			return jobs.EnqueueOptions{}, controller.NewValidationError("timeout must be a positive duration such as \"30s\"")
		}
		opts.Timeout = timeout
	}
	return opts, nil
}

func (h *Handler) get(c *gin.Context) {
	job, err := h.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) list(c *gin.Context) {
	var status jobs.Status
	if raw := c.Query("status"); raw != "" {
		parsed, err := jobs.ParseStatus(raw)
		if err != nil {
			h.fail(c, err)
			return
		}
		status = parsed
	}

	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > MaxListLimit {
			h.fail(c, controller.NewValidationError("limit must be between 1 and "+strconv.Itoa(MaxListLimit)))
			return
		}
		limit = parsed
	}

	items, err := h.queue.List(c.Request.Context(), status, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []*jobs.Job{}
	}
	c.JSON(http.StatusOK, ListResponse{Jobs: items, Count: len(items)})
}

func (h *Handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Stats())
}

// fail answers through controller.MapError. Temporary admission rejections
// carry Retry-After; server errors are logged.
func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, resp := controller.MapError(c.Request.Context(), err)
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.log.WithContext(c.Request.Context()).Error("job api request failed", "error", err, "route", c.FullPath())
	}
	c.AbortWithStatusJSON(status, resp)
}
