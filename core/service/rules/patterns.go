package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ============================================
// Sender Pattern Learning
// ============================================

// PatternLearner runs in the background (maintenance jobs) and distills
// executed-rule history into per-sender shortcuts. A pattern is learned
// only for one-way senders: as soon as the mailbox owner has ever
// written back, the sender is a correspondent and keeps full AI
// evaluation.
type PatternLearner struct {
	executed out.ExecutedRuleRepository
	senders  out.SenderRepository
	log      *logger.Logger
	now      func() time.Time
}

// NewPatternLearner builds a PatternLearner.
func NewPatternLearner(executed out.ExecutedRuleRepository, senders out.SenderRepository, log *logger.Logger) *PatternLearner {
	if log == nil {
		log = logger.Default()
	}
	return &PatternLearner{
		executed: executed,
		senders:  senders,
		log:      log,
		now:      time.Now,
	}
}

// AnalyzeSender re-derives the sender's pattern from executed-rule
// history. It upserts a pattern when one rule accounts for every
// decision and the thread count clears the trust threshold; an
// inconsistent history refreshes the analyzed timestamp with a zero
// count, which revokes trust.
func (l *PatternLearner) AnalyzeSender(ctx context.Context, account *domain.Account, provider out.EmailProviderPort, sender string) error {
	replied, err := provider.HasPreviousCommunications(ctx, &out.PreviousCommsQuery{
		Sender: sender,
		Before: l.now(),
	})
	if err != nil {
		return err
	}
	if replied {
		l.log.Debug("sender %s is a correspondent, skipping pattern learning", sender)
		return nil
	}

	counts, err := l.executed.CountByRuleAndSender(ctx, account.ID, sender)
	if err != nil {
		return err
	}

	ruleID, total, consistent := dominantRule(counts)
	pattern := &domain.SenderPattern{
		AccountID:  account.ID,
		Sender:     sender,
		AnalyzedAt: l.now(),
	}
	if consistent && total >= domain.MinPatternThreads {
		pattern.RuleID = ruleID
		pattern.ThreadCount = total
		l.log.Info("learned sender pattern: sender=%s rule=%s threads=%d", sender, ruleID, total)
	} else {
		l.log.Debug("no consistent pattern for sender=%s rules=%d threads=%d", sender, len(counts), total)
	}
	return l.senders.UpsertPattern(ctx, pattern)
}

// dominantRule reports whether exactly one rule received all of the
// sender's decisions.
func dominantRule(counts map[uuid.UUID]int) (uuid.UUID, int, bool) {
	var ruleID uuid.UUID
	total := 0
	distinct := 0
	for id, n := range counts {
		if n == 0 {
			continue
		}
		distinct++
		ruleID = id
		total += n
	}
	return ruleID, total, distinct == 1
}
