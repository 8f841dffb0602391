package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/core/service/tracker"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/response"
)

// TrackerHandler exposes the unresolved reply-state views.
type TrackerHandler struct {
	trackers *tracker.Service
}

func NewTrackerHandler(trackers *tracker.Service) *TrackerHandler {
	return &TrackerHandler{trackers: trackers}
}

func (h *TrackerHandler) Register(router fiber.Router) {
	router.Get("/accounts/:account_id/trackers", h.ListUnresolved)
}

// ListUnresolved returns the account's unresolved trackers, one row per
// thread, filtered by type and age bucket.
func (h *TrackerHandler) ListUnresolved(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("account_id"))
	if err != nil {
		return response.Error(c, apperr.InvalidInput("invalid account id"))
	}

	q := &out.TrackerQuery{
		Type:   domain.TrackerType(c.Query("type")),
		Bucket: domain.TrackerBucket(c.Query("bucket")),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}

	trackers, total, err := h.trackers.ListUnresolved(c.Context(), accountID, q)
	if err != nil {
		return response.Error(c, err)
	}

	return response.OKWithMeta(c, trackers, &response.Meta{
		Total:   total,
		Limit:   q.Limit,
		Offset:  q.Offset,
		HasMore: q.Offset+len(trackers) < total,
	})
}
