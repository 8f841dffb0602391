package http

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/response"
)

// JobsHandler exposes the queue to service callers (schedulers, the
// dashboard backend). Ingress is authenticated by the middleware layer.
type JobsHandler struct {
	queue out.JobQueue
}

func NewJobsHandler(queue out.JobQueue) *JobsHandler {
	return &JobsHandler{queue: queue}
}

func (h *JobsHandler) Register(router fiber.Router) {
	router.Post("/jobs", h.Enqueue)
	router.Post("/jobs/bulk", h.BulkEnqueue)
}

type enqueueRequest struct {
	Queue        string         `json:"queue"`
	ID           string         `json:"id,omitempty"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	DelaySeconds int            `json:"delay_seconds,omitempty"`
}

func (r *enqueueRequest) toJob() *out.Job {
	return &out.Job{
		ID:        r.ID,
		Type:      r.Type,
		Payload:   r.Payload,
		CreatedAt: time.Now(),
	}
}

// Enqueue accepts a single job.
func (h *JobsHandler) Enqueue(c *fiber.Ctx) error {
	var req enqueueRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return response.Error(c, apperr.BadRequest("malformed job request"))
	}
	if req.Type == "" {
		return response.Error(c, apperr.MissingField("type"))
	}

	var opts *out.EnqueueOptions
	if req.DelaySeconds > 0 {
		opts = &out.EnqueueOptions{Delay: time.Duration(req.DelaySeconds) * time.Second}
	}

	id, err := h.queue.Enqueue(c.Context(), req.Queue, req.toJob(), opts)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, fiber.Map{"id": id})
}

type bulkEnqueueRequest struct {
	Queue string           `json:"queue"`
	Jobs  []enqueueRequest `json:"jobs"`
}

// BulkEnqueue accepts a batch of jobs for one queue.
func (h *JobsHandler) BulkEnqueue(c *fiber.Ctx) error {
	var req bulkEnqueueRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return response.Error(c, apperr.BadRequest("malformed bulk job request"))
	}
	if len(req.Jobs) == 0 {
		return response.Error(c, apperr.MissingField("jobs"))
	}

	jobs := make([]*out.Job, 0, len(req.Jobs))
	for i := range req.Jobs {
		if req.Jobs[i].Type == "" {
			return response.Error(c, apperr.MissingField("type"))
		}
		jobs = append(jobs, req.Jobs[i].toJob())
	}

	ids, err := h.queue.BulkEnqueue(c.Context(), req.Queue, jobs)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Accepted(c, fiber.Map{"ids": ids, "count": len(ids)})
}
