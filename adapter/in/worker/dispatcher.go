package worker

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

type Handler struct {
	eventProcessor       *EventProcessor
	digestProcessor      *DigestProcessor
	maintenanceProcessor *MaintenanceProcessor
}

func NewHandler(
	eventProcessor *EventProcessor,
	digestProcessor *DigestProcessor,
	maintenanceProcessor *MaintenanceProcessor,
) *Handler {
	return &Handler{
		eventProcessor:       eventProcessor,
		digestProcessor:      digestProcessor,
		maintenanceProcessor: maintenanceProcessor,
	}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	// Event jobs
	case JobEventProcess:
		return h.eventProcessor.ProcessEvent(ctx, msg)

	// Digest jobs
	case JobDigestSend:
		return h.digestProcessor.ProcessSend(ctx, msg)

	// Maintenance jobs
	case JobWatchRenew:
		return h.maintenanceProcessor.ProcessWatchRenew(ctx, msg)
	case JobPatternAnalyze:
		return h.maintenanceProcessor.ProcessPatternAnalyze(ctx, msg)
	case JobDigestSchedule:
		return h.digestProcessor.ProcessSchedule(ctx, msg)

	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
