package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ============================================
// Action Executor
// ============================================
//
// The durable decision record is written with status 'applying' BEFORE
// any side effect runs. Its unique (account, thread, message) key makes
// that insert the linearization point under concurrent duplicate
// deliveries: the loser gets apperr.Duplicate and drops the event.
// Actions then run independently; one failure never blocks siblings.

// ThreadTracking is the tracker dependency of track_thread actions.
type ThreadTracking interface {
	Track(ctx context.Context, accountID uuid.UUID, threadID, messageID string, typ domain.TrackerType, sentAt time.Time) error
}

// patternAnalysisDelay leaves room for more mail from the same sender
// to land before the history scan runs.
const patternAnalysisDelay = 10 * time.Minute

// Executor applies a matched rule's actions through the account's mail
// provider, honoring the automation gate and the risk ceiling.
type Executor struct {
	executed out.ExecutedRuleRepository
	digests  out.DigestRepository
	tracking ThreadTracking
	queue    out.JobQueue
	log      *logger.Logger
	now      func() time.Time
}

// NewExecutor builds an Executor. queue may be nil; pattern analysis is
// then never scheduled.
func NewExecutor(
	executed out.ExecutedRuleRepository,
	digests out.DigestRepository,
	tracking ThreadTracking,
	queue out.JobQueue,
	log *logger.Logger,
) *Executor {
	if log == nil {
		log = logger.Default()
	}
	return &Executor{
		executed: executed,
		digests:  digests,
		tracking: tracking,
		queue:    queue,
		log:      log,
		now:      time.Now,
	}
}

// RecordNoMatch writes the terminal skipped record for a message no
// rule matched, so reprocessing stays cheap. A duplicate insert means
// another worker already decided; that is not an error here.
func (e *Executor) RecordNoMatch(ctx context.Context, account *domain.Account, msg *domain.Message, reason string) error {
	rec := &domain.ExecutedRule{
		AccountID: account.ID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		Sender:    msg.From.Email,
		Status:    domain.StatusSkipped,
		Reason:    reason,
		CreatedAt: e.now(),
	}
	err := e.executed.Create(ctx, rec)
	if apperr.IsDuplicate(err) {
		return nil
	}
	return err
}

// Execute applies the matched rules to the message. It returns
// apperr.Duplicate untouched when another worker holds the decision
// slot; the caller drops the event. Any other error from the initial
// insert is retryable since no side effect has happened yet.
func (e *Executor) Execute(
	ctx context.Context,
	provider out.EmailProviderPort,
	account *domain.Account,
	msg *domain.Message,
	match *Match,
) (*domain.ExecutionOutcome, error) {
	primary := match.Primary()
	if primary == nil {
		return nil, apperr.InvalidInput("execute called without a matched rule")
	}

	log := e.log.WithMessage(account.ID.String(), msg.ThreadID, msg.ID)

	rec := &domain.ExecutedRule{
		AccountID: account.ID,
		ThreadID:  msg.ThreadID,
		MessageID: msg.ID,
		RuleID:    &primary.ID,
		RuleName:  ruleNames(match.Rules),
		Sender:    msg.From.Email,
		Status:    domain.StatusApplying,
		Reason:    match.Justification,
		Risk:      maxRisk(match.Rules),
		Automated: primary.Automate,
		CreatedAt: e.now(),
	}
	if err := e.executed.Create(ctx, rec); err != nil {
		return nil, err
	}

	vars := TemplateVars(msg)
	// Evaluator-extracted values fill templates too; message fields win
	// on a name collision.
	for k, v := range match.Args {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}
	outcome := &domain.ExecutionOutcome{}
	for _, rule := range match.Rules {
		for i := range rule.Actions {
			res := e.runAction(ctx, provider, account, msg, rule, &rule.Actions[i], vars)
			outcome.Results = append(outcome.Results, res)
			if res.Error != "" {
				log.Error("action failed: rule=%s action=%s err=%s", rule.Name, res.Type, res.Error)
			}
		}
	}

	outcome.Status = finalStatus(outcome)
	if err := e.executed.Finalize(ctx, rec.ID, outcome.Status, match.Justification); err != nil {
		// The side effects already happened; the record stays 'applying'
		// and still blocks reprocessing, so log and carry on.
		log.WithError(err).Error("failed to finalize executed rule record id=%d", rec.ID)
	}
	log.Info("rule execution finished: rule=%s status=%s actions=%d failed=%d",
		rec.RuleName, outcome.Status, len(outcome.Results), outcome.Failed())

	e.maybeScheduleAnalysis(ctx, account, msg, match)
	return outcome, nil
}

// maybeScheduleAnalysis enqueues a delayed pattern-analysis job after a
// live AI match. Repeated AI verdicts for the same sender are what the
// analysis turns into a learned pattern, so shortcut matches and
// deterministic matches schedule nothing. The job ID keys on the day,
// bounding the scans to one per sender per day via queue dedup.
func (e *Executor) maybeScheduleAnalysis(ctx context.Context, account *domain.Account, msg *domain.Message, match *Match) {
	if e.queue == nil || match.ViaPattern || !match.Primary().IsAIMatched() {
		return
	}
	sender := msg.From.Email
	if sender == "" {
		return
	}
	job := &out.Job{
		ID:   fmt.Sprintf("pattern_analyze:%s:%s:%s", account.ID, sender, e.now().UTC().Format("2006-01-02")),
		Type: "maintenance.pattern_analyze",
		Payload: map[string]any{
			"account_id": account.ID.String(),
			"sender":     sender,
		},
		CreatedAt: e.now(),
	}
	if _, err := e.queue.Enqueue(ctx, out.QueueMaintenance, job, &out.EnqueueOptions{Delay: patternAnalysisDelay}); err != nil {
		e.log.WithError(err).Warn("failed to schedule pattern analysis: sender=%s", sender)
	}
}

// runAction renders, risk-gates and applies a single action. Errors are
// captured in the result, never returned.
func (e *Executor) runAction(
	ctx context.Context,
	provider out.EmailProviderPort,
	account *domain.Account,
	msg *domain.Message,
	rule *domain.Rule,
	action *domain.Action,
	vars map[string]string,
) domain.ActionResult {
	risk := ComputeRisk(rule, action)
	res := domain.ActionResult{ActionID: action.ID, Type: action.Type, Risk: risk}

	if !rule.Automate || risk > account.AutonomyCeiling {
		res.Suggested = true
		return res
	}

	rendered := RenderAction(action, vars)
	if err := e.apply(ctx, provider, account, msg, rule, &rendered); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Executed = true
	return res
}

func (e *Executor) apply(
	ctx context.Context,
	provider out.EmailProviderPort,
	account *domain.Account,
	msg *domain.Message,
	rule *domain.Rule,
	a *domain.Action,
) error {
	switch a.Type {
	case domain.ActionArchive:
		return provider.Archive(ctx, msg.ID)

	case domain.ActionMarkRead:
		return provider.MarkRead(ctx, msg.ID)

	case domain.ActionMarkSpam:
		return provider.MarkSpam(ctx, msg.ID)

	case domain.ActionLabel:
		if a.Label == "" {
			return apperr.InvalidInput("label action rendered an empty label name")
		}
		label, err := provider.GetOrCreateLabel(ctx, a.Label)
		if err != nil {
			return err
		}
		return provider.LabelMessage(ctx, msg.ID, label.ID)

	case domain.ActionReply:
		_, err := provider.SendEmail(ctx, composeReply(msg, a))
		return err

	case domain.ActionDraft:
		_, err := provider.DraftEmail(ctx, composeReply(msg, a))
		return err

	case domain.ActionSend:
		if a.To == "" {
			return apperr.InvalidInput("send action rendered an empty recipient")
		}
		_, err := provider.SendEmail(ctx, &out.OutgoingMessage{
			To:      parseAddressList(a.To),
			CC:      parseAddressList(a.CC),
			BCC:     parseAddressList(a.BCC),
			Subject: a.Subject,
			Text:    a.Content,
		})
		return err

	case domain.ActionForward:
		if a.To == "" {
			return apperr.InvalidInput("forward action rendered an empty recipient")
		}
		subject := a.Subject
		if subject == "" {
			subject = "Fwd: " + msg.Subject
		}
		_, err := provider.SendEmail(ctx, &out.OutgoingMessage{
			To:      parseAddressList(a.To),
			CC:      parseAddressList(a.CC),
			Subject: subject,
			Text:    forwardBody(msg, a.Content),
		})
		return err

	case domain.ActionTrackThread:
		typ := a.TrackType
		if typ == "" {
			typ = domain.TrackNeedsReply
		}
		return e.tracking.Track(ctx, account.ID, msg.ThreadID, msg.ID, typ, msg.Date)

	case domain.ActionDigest:
		content := a.Content
		if content == "" {
			content = msg.Snippet
		}
		return e.digests.Add(ctx, &domain.DigestItem{
			AccountID: account.ID,
			MessageID: msg.ID,
			RuleName:  rule.Name,
			Content:   content,
			CreatedAt: e.now(),
		})

	default:
		return apperr.InvalidInput("unknown action type: " + string(a.Type))
	}
}

// composeReply builds a threaded outgoing message for reply and draft
// actions. An explicit To overrides the default reply target (Reply-To
// when present, otherwise the original sender).
func composeReply(msg *domain.Message, a *domain.Action) *out.OutgoingMessage {
	to := parseAddressList(a.To)
	if len(to) == 0 {
		if msg.ReplyTo != "" {
			to = []domain.Address{{Email: msg.ReplyTo}}
		} else {
			to = []domain.Address{msg.From}
		}
	}
	subject := a.Subject
	if subject == "" {
		subject = msg.Subject
		if !strings.HasPrefix(strings.ToLower(subject), "re:") {
			subject = "Re: " + subject
		}
	}
	references := msg.References
	if msg.RFCMessageID != "" {
		if references != "" {
			references += " "
		}
		references += msg.RFCMessageID
	}
	return &out.OutgoingMessage{
		To:         to,
		CC:         parseAddressList(a.CC),
		BCC:        parseAddressList(a.BCC),
		Subject:    subject,
		Text:       a.Content,
		ThreadID:   msg.ThreadID,
		InReplyTo:  msg.RFCMessageID,
		References: references,
	}
}

func forwardBody(msg *domain.Message, note string) string {
	var b strings.Builder
	if note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}
	b.WriteString("---------- Forwarded message ----------\n")
	b.WriteString("From: " + msg.From.String() + "\n")
	b.WriteString("Date: " + msg.Date.Format(time.RFC1123Z) + "\n")
	b.WriteString("Subject: " + msg.Subject + "\n\n")
	b.WriteString(msg.BestBody())
	return b.String()
}

// parseAddressList splits a rendered recipient field into addresses.
// Empty entries (from unresolved placeholders) are dropped.
func parseAddressList(s string) []domain.Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]domain.Address, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, domain.Address{Email: p})
	}
	return out
}

func ruleNames(rules []*domain.Rule) string {
	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}

// maxRisk is the highest risk across every action of the matched rules.
func maxRisk(rules []*domain.Rule) domain.RiskLevel {
	top := domain.RiskLow
	for _, r := range rules {
		for i := range r.Actions {
			if risk := ComputeRisk(r, &r.Actions[i]); risk > top {
				top = risk
			}
		}
	}
	return top
}

// finalStatus derives the terminal record status from the per-action
// results: any failure wins, then any pending suggestion, then applied.
func finalStatus(o *domain.ExecutionOutcome) domain.ExecutedStatus {
	if o.Failed() > 0 {
		return domain.StatusPartiallyFailed
	}
	for _, r := range o.Results {
		if r.Suggested {
			return domain.StatusSuggested
		}
	}
	return domain.StatusApplied
}
