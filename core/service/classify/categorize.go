package classify

import (
	"context"
	"time"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// Categorizer assigns categories to first-seen senders so category
// conditions have data to match against. The whole stage is
// best-effort: every failure is logged and swallowed, the pipeline
// never stops here.
type Categorizer struct {
	senders out.SenderRepository
	ai      out.SenderCategorizer
	log     *logger.Logger
	now     func() time.Time
}

// NewCategorizer builds a Categorizer.
func NewCategorizer(senders out.SenderRepository, ai out.SenderCategorizer, log *logger.Logger) *Categorizer {
	if log == nil {
		log = logger.Default()
	}
	return &Categorizer{senders: senders, ai: ai, log: log, now: time.Now}
}

// MaybeCategorize stores a model-assigned category for the sender when
// the account opted in and none exists yet. User-assigned categories
// are never overwritten.
func (c *Categorizer) MaybeCategorize(ctx context.Context, account *domain.Account, msg *domain.Message) {
	if !account.AutoCategorizeSenders || !account.AIAccess {
		return
	}
	sender := msg.From.Email

	existing, err := c.senders.GetCategory(ctx, account.ID, sender)
	if err != nil {
		c.log.WithError(err).Warn("category lookup failed: sender=%s", sender)
		return
	}
	if existing != nil {
		return
	}

	category, err := c.ai.CategorizeSender(ctx, account, msg)
	if err != nil {
		c.log.WithError(err).Warn("sender categorization failed: sender=%s", sender)
		return
	}
	if category == "" {
		return
	}

	err = c.senders.SetCategory(ctx, &domain.SenderCategory{
		AccountID: account.ID,
		Sender:    sender,
		Category:  category,
		Source:    "ai",
		CreatedAt: c.now(),
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to store sender category: sender=%s", sender)
		return
	}
	c.log.Debug("categorized sender %s as %s", sender, category)
}
