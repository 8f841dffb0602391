package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/service/pipeline"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// EventProcessor feeds inbound message events into the pipeline.
type EventProcessor struct {
	orchestrator *pipeline.Orchestrator
}

func NewEventProcessor(orchestrator *pipeline.Orchestrator) *EventProcessor {
	return &EventProcessor{orchestrator: orchestrator}
}

func (p *EventProcessor) ProcessEvent(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[EventProcessPayload](msg)
	if err != nil {
		return apperr.InvalidInput("invalid event payload: " + err.Error())
	}

	accountID, err := uuid.Parse(payload.AccountID)
	if err != nil {
		return apperr.InvalidInput("invalid account id: " + payload.AccountID)
	}
	if payload.MessageID == "" {
		return apperr.MissingField("message_id")
	}

	return p.orchestrator.ProcessEvent(ctx, &domain.InboundEvent{
		AccountID:  accountID,
		MessageID:  payload.MessageID,
		ThreadID:   payload.ThreadID,
		FolderHint: payload.FolderHint,
	})
}
