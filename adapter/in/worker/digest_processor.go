package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/service/digest"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// DigestProcessor sends one account's pending digest.
type DigestProcessor struct {
	digests *digest.Service
}

func NewDigestProcessor(digests *digest.Service) *DigestProcessor {
	return &DigestProcessor{digests: digests}
}

func (p *DigestProcessor) ProcessSend(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[DigestSendPayload](msg)
	if err != nil {
		return apperr.InvalidInput("invalid digest payload: " + err.Error())
	}

	accountID, err := uuid.Parse(payload.AccountID)
	if err != nil {
		return apperr.InvalidInput("invalid account id: " + payload.AccountID)
	}

	return p.digests.Send(ctx, accountID)
}

// ProcessSchedule fans out digest.send jobs for every account with
// pending items.
func (p *DigestProcessor) ProcessSchedule(ctx context.Context, msg *Message) error {
	_, err := p.digests.EnqueueSendJobs(ctx)
	return err
}
