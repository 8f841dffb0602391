// Package pipeline sequences the inbound message pipeline: idempotency
// guard, classifier stages, rule matching, action execution and thread
// tracking.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/core/service/classify"
	"github.com/elie222/inbox-zero-sub011/core/service/rules"
	"github.com/elie222/inbox-zero-sub011/core/service/tracker"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// AssistantHook handles messages addressed to the account's assistant
// alias. Optional; when unset such messages are skipped.
type AssistantHook func(ctx context.Context, account *domain.Account, msg *domain.Message) error

// Orchestrator drives one inbound event through the pipeline. A nil
// return acknowledges the event; an error returns it to the queue for
// redelivery.
type Orchestrator struct {
	guard        *Guard
	accounts     out.AccountRepository
	providers    out.ProviderFactory
	senders      out.SenderRepository
	coldBlocker  *classify.ColdEmailBlocker
	categorizer  *classify.Categorizer
	matcher      *rules.Matcher
	executor     *rules.Executor
	trackers     *tracker.Service
	assistant    AssistantHook
	assistantTag string
	log          *logger.Logger
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Guard       *Guard
	Accounts    out.AccountRepository
	Providers   out.ProviderFactory
	Senders     out.SenderRepository
	ColdBlocker *classify.ColdEmailBlocker
	Categorizer *classify.Categorizer
	Matcher     *rules.Matcher
	Executor    *rules.Executor
	Trackers    *tracker.Service
	Assistant   AssistantHook

	// AssistantTag is the plus-tag fallback for accounts without an
	// explicit assistant alias address.
	AssistantTag string

	Log *logger.Logger
}

// New builds an Orchestrator.
func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = logger.Default()
	}
	return &Orchestrator{
		guard:        d.Guard,
		accounts:     d.Accounts,
		providers:    d.Providers,
		senders:      d.Senders,
		coldBlocker:  d.ColdBlocker,
		categorizer:  d.Categorizer,
		matcher:      d.Matcher,
		executor:     d.Executor,
		trackers:     d.Trackers,
		assistant:    d.Assistant,
		assistantTag: d.AssistantTag,
		log:          d.Log,
	}
}

// ProcessEvent handles one inbound event end to end.
func (o *Orchestrator) ProcessEvent(ctx context.Context, ev *domain.InboundEvent) error {
	log := o.log.WithMessage(ev.AccountID.String(), ev.ThreadID, ev.MessageID)

	account, err := o.accounts.Get(ctx, ev.AccountID)
	if err != nil {
		if apperr.IsNotFound(err) {
			log.Info("account gone, dropping event")
			return nil
		}
		return err
	}

	locked, err := o.guard.Acquire(ctx, account.ID, ev.MessageID)
	if err != nil {
		// Lock store outage. Requeue rather than risk a concurrent processor.
		return err
	}
	if !locked {
		log.Debug("message locked by another worker, dropping duplicate delivery")
		return nil
	}
	defer o.guard.Release(account.ID, ev.MessageID)

	// Fetch before the durable check: the provider lookup also resolves
	// the thread ID when the push notification omitted it.
	provider, err := o.providers.ForAccount(ctx, account)
	if err != nil {
		return err
	}
	msg, err := provider.GetMessage(ctx, ev.MessageID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Deleted between notification and fetch. Normal, not an error.
			log.Info("message no longer exists, dropping event")
			return nil
		}
		return err
	}
	if msg.IsDraft() {
		log.Debug("draft message, dropping event")
		return nil
	}

	decided, err := o.guard.AlreadyDecided(ctx, account.ID, msg.ThreadID, msg.ID)
	if err != nil {
		// Fail closed: without the durable answer a duplicate execution
		// is possible, so send the event back for a later retry.
		return err
	}
	if decided {
		log.Debug("message already decided, dropping duplicate delivery")
		return nil
	}

	if alias := o.assistantAddress(account); alias != "" && msg.AddressedTo(alias) {
		if o.assistant == nil {
			log.Info("assistant message without handler, dropping")
			return nil
		}
		return o.assistant(ctx, account, msg)
	}

	// A message can sit in both the sent and inbox views (self-addressed
	// mail, shared aliases). Both branches run; neither blocks the other.
	outbound := msg.IsOutbound()
	inbound := !outbound || msg.HasLabel(domain.LabelInbox)

	switch {
	case outbound && inbound:
		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = o.handleOutbound(ctx, provider, account, msg)
		}()
		go func() {
			defer wg.Done()
			errs[1] = o.handleInbound(ctx, provider, account, msg)
		}()
		wg.Wait()
		return errors.Join(errs...)
	case outbound:
		return o.handleOutbound(ctx, provider, account, msg)
	default:
		return o.handleInbound(ctx, provider, account, msg)
	}
}

// assistantAddress resolves the address that routes a message to the
// assistant hook. An explicit per-account alias wins; otherwise the
// configured plus-tag is applied to the account's own address.
func (o *Orchestrator) assistantAddress(account *domain.Account) string {
	if account.AssistantAlias != "" {
		return account.AssistantAlias
	}
	if o.assistantTag == "" {
		return ""
	}
	at := strings.LastIndex(account.Email, "@")
	if at <= 0 {
		return ""
	}
	return account.Email[:at] + "+" + o.assistantTag + account.Email[at:]
}

// handleInbound runs the classifier stages, rule matching and
// execution for a received message.
func (o *Orchestrator) handleInbound(ctx context.Context, provider out.EmailProviderPort, account *domain.Account, msg *domain.Message) error {
	log := o.log.WithMessage(account.ID.String(), msg.ThreadID, msg.ID)

	// The other side wrote back; the owner is no longer awaiting.
	if err := o.trackers.OnInbound(ctx, account.ID, msg.ThreadID); err != nil {
		log.WithError(err).Warn("failed to resolve awaiting trackers")
	}

	unsubscribed, err := o.senders.IsUnsubscribed(ctx, account.ID, msg.From.Email)
	if err != nil {
		return err
	}
	if unsubscribed {
		// Blocked before any decision: no record is written, so the
		// message is eligible for reprocessing if the sender is unblocked.
		log.Info("sender unsubscribed, stopping pipeline: sender=%s", msg.From.Email)
		return nil
	}

	blocked, err := o.coldBlocker.Check(ctx, provider, account, msg)
	if err != nil {
		return err
	}
	if blocked {
		return nil
	}

	o.categorizer.MaybeCategorize(ctx, account, msg)

	if !account.AutomationEnabled {
		log.Debug("automation disabled, skipping rule matching")
		return nil
	}

	match, err := o.matcher.Match(ctx, account, msg)
	if err != nil {
		return err
	}
	if !match.Matched() {
		return o.executor.RecordNoMatch(ctx, account, msg, "no rule matched")
	}

	_, err = o.executor.Execute(ctx, provider, account, msg, match)
	if apperr.IsDuplicate(err) {
		log.Debug("decision slot taken by concurrent worker, dropping")
		return nil
	}
	return err
}
