package pipeline

import (
	"context"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
)

// handleOutbound applies the sent-message transitions: the owner wrote
// in the thread, so open needs-reply and needs-action trackers resolve,
// an awaiting tracker is created for the sent message, and stale drafts
// in the thread are cleaned up. Rules never run on outbound mail.
func (o *Orchestrator) handleOutbound(ctx context.Context, provider out.EmailProviderPort, account *domain.Account, msg *domain.Message) error {
	log := o.log.WithMessage(account.ID.String(), msg.ThreadID, msg.ID)

	err := o.trackers.OnOutbound(ctx, account.ID, msg.ThreadID, msg.ID, msg.Date, true)
	if err != nil {
		return err
	}

	log.Debug("outbound transitions applied")

	// Draft cleanup is best-effort: a leftover draft is clutter, not a
	// correctness problem.
	o.cleanupStaleDrafts(ctx, provider, msg)
	return nil
}

// cleanupStaleDrafts deletes reply drafts in the thread that predate
// the message the owner actually sent.
func (o *Orchestrator) cleanupStaleDrafts(ctx context.Context, provider out.EmailProviderPort, sent *domain.Message) {
	drafts, err := provider.ListThreadDrafts(ctx, sent.ThreadID)
	if err != nil {
		o.log.WithError(err).Warn("failed to list thread drafts: thread=%s", sent.ThreadID)
		return
	}
	for _, d := range drafts {
		if !d.Date.Before(sent.Date) {
			continue
		}
		if err := provider.DeleteDraft(ctx, d.ID); err != nil {
			o.log.WithError(err).Warn("failed to delete superseded draft %s", d.ID)
			continue
		}
		o.log.Debug("deleted superseded draft %s in thread %s", d.ID, sent.ThreadID)
	}
}
