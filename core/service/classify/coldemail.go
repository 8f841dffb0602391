// Package classify holds the pre-matching pipeline stages: cold-email
// blocking and sender categorization.
package classify

import (
	"context"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ============================================
// Cold Email Blocker
// ============================================
//
// Staged evaluation, cheapest check first: stored verdicts, then the
// provider history lookup, then the model. Uncertainty always falls
// through to "not cold" so a classifier outage never swallows real
// mail.

// ColdEmailBlocker decides whether an inbound message is unsolicited
// cold outreach and applies the account's configured policy to it.
type ColdEmailBlocker struct {
	senders    out.SenderRepository
	classifier out.ColdEmailClassifier
	label      string
	log        *logger.Logger
}

// NewColdEmailBlocker builds a ColdEmailBlocker. label is the mailbox
// label applied under labeling policies.
func NewColdEmailBlocker(senders out.SenderRepository, classifier out.ColdEmailClassifier, label string, log *logger.Logger) *ColdEmailBlocker {
	if label == "" {
		label = "Cold Email"
	}
	if log == nil {
		log = logger.Default()
	}
	return &ColdEmailBlocker{senders: senders, classifier: classifier, label: label, log: log}
}

// Check classifies the message and, on a cold verdict, applies the
// account policy. It returns true when the message was blocked and the
// pipeline must stop without writing a decision record.
func (b *ColdEmailBlocker) Check(ctx context.Context, provider out.EmailProviderPort, account *domain.Account, msg *domain.Message) (bool, error) {
	if !account.ColdEmailPolicy.Enabled() || !account.AIAccess {
		return false, nil
	}

	log := b.log.WithMessage(account.ID.String(), msg.ThreadID, msg.ID)
	sender := msg.From.Email

	// A stored verdict short-circuits both the history lookup and the
	// model call for repeat senders.
	cold, err := b.senders.IsCold(ctx, account.ID, sender)
	if err != nil {
		log.WithError(err).Warn("cold-sender lookup failed, skipping blocker")
		return false, nil
	}
	if cold {
		log.Info("blocking message from known cold sender %s", sender)
		return true, b.applyPolicy(ctx, provider, account, msg)
	}

	known, err := provider.HasPreviousCommunications(ctx, &out.PreviousCommsQuery{
		Sender:        sender,
		Before:        msg.Date,
		ExcludeThread: msg.ThreadID,
	})
	if err != nil {
		log.WithError(err).Warn("history lookup failed, skipping blocker")
		return false, nil
	}
	if known {
		return false, nil
	}

	verdict, err := b.classifier.ClassifyColdEmail(ctx, account, msg)
	if err != nil {
		log.WithError(err).Warn("cold-email classification failed, letting message through")
		return false, nil
	}
	if !verdict.IsColdEmail {
		return false, nil
	}

	log.Info("cold email detected: sender=%s reason=%s", sender, verdict.Reason)
	if err := b.senders.MarkCold(ctx, account.ID, sender); err != nil {
		log.WithError(err).Warn("failed to persist cold-sender verdict")
	}
	return true, b.applyPolicy(ctx, provider, account, msg)
}

// applyPolicy executes the account's cold-email disposition. Partial
// failures are logged; the message still counts as blocked.
func (b *ColdEmailBlocker) applyPolicy(ctx context.Context, provider out.EmailProviderPort, account *domain.Account, msg *domain.Message) error {
	policy := account.ColdEmailPolicy

	label, err := provider.GetOrCreateLabel(ctx, b.label)
	if err != nil {
		return err
	}
	if err := provider.LabelMessage(ctx, msg.ID, label.ID); err != nil {
		return err
	}

	if policy == domain.ColdEmailArchiveLabel || policy == domain.ColdEmailArchiveLabelRead {
		if err := provider.Archive(ctx, msg.ID); err != nil {
			b.log.WithError(err).Warn("cold-email archive failed: message=%s", msg.ID)
		}
	}
	if policy == domain.ColdEmailArchiveLabelRead {
		if err := provider.MarkRead(ctx, msg.ID); err != nil {
			b.log.WithError(err).Warn("cold-email mark-read failed: message=%s", msg.ID)
		}
	}
	return nil
}
