package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/core/service/classify"
	"github.com/elie222/inbox-zero-sub011/core/service/rules"
	"github.com/elie222/inbox-zero-sub011/core/service/tracker"
)

// env wires a full orchestrator over in-memory fakes.
type env struct {
	orch       *Orchestrator
	account    *domain.Account
	cache      *fakeCache
	executed   *fakeExecutedRepo
	senders    *fakeSenderRepo
	ruleRepo   *fakeRuleRepo
	provider   *fakeProvider
	trackers   *fakeTrackerRepo
	classifier *fakeClassifier
	assistant  AssistantHook
	tag        string
}

func newEnv() *env {
	e := &env{
		account: &domain.Account{
			ID:                uuid.New(),
			Email:             "me@example.com",
			Provider:          domain.ProviderGmail,
			AutomationEnabled: true,
			AutonomyCeiling:   domain.RiskHigh,
		},
		cache:      newFakeCache(),
		executed:   &fakeExecutedRepo{},
		senders:    newFakeSenderRepo(),
		ruleRepo:   &fakeRuleRepo{},
		provider:   &fakeProvider{},
		trackers:   &fakeTrackerRepo{},
		classifier: &fakeClassifier{},
	}
	return e
}

func (e *env) build() *Orchestrator {
	trackerSvc := tracker.New(e.trackers, nil)
	e.orch = New(Deps{
		Guard:       NewGuard(e.cache, e.executed, time.Minute, nil),
		Accounts:    &fakeAccountRepo{accounts: map[uuid.UUID]*domain.Account{e.account.ID: e.account}},
		Providers:   &fakeProviderFactory{provider: e.provider},
		Senders:     e.senders,
		ColdBlocker: classify.NewColdEmailBlocker(e.senders, e.classifier, "", nil),
		Categorizer: classify.NewCategorizer(e.senders, &fakeCategorizerAI{}, nil),
		Matcher:     rules.NewMatcher(e.ruleRepo, e.senders, &fakeGroupRepo{}, &fakeEvaluator{}, nil),
		Executor:    rules.NewExecutor(e.executed, &fakeDigestRepo{}, trackerSvc, nil, nil),
		Trackers:    trackerSvc,
		Assistant:   e.assistant,

		AssistantTag: e.tag,
	})
	return e.orch
}

func inboxMessage(id string) *domain.Message {
	return &domain.Message{
		ID:       id,
		ThreadID: "thread-1",
		From:     domain.Address{Email: "news@acme.com"},
		To:       []domain.Address{{Email: "me@example.com"}},
		Subject:  "Weekly update",
		Snippet:  "hello",
		Date:     time.Now(),
		Labels:   []string{domain.LabelInbox},
	}
}

func (e *env) event(messageID string) *domain.InboundEvent {
	return &domain.InboundEvent{AccountID: e.account.ID, MessageID: messageID, ThreadID: "thread-1"}
}

func archiveRule(accountID uuid.UUID) *domain.Rule {
	return &domain.Rule{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      "Archive newsletters",
		Enabled:   true,
		Automate:  true,
		Condition: domain.Condition{
			Type:   domain.ConditionStatic,
			Static: &domain.StaticCondition{From: "news@acme.com"},
		},
		Actions: []domain.Action{{ID: uuid.New(), Type: domain.ActionArchive}},
	}
}

func TestProcessEventAccountGone(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	orch := e.build()

	ev := &domain.InboundEvent{AccountID: uuid.New(), MessageID: "m1"}
	if err := orch.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent() error = %v, want nil for a deleted account", err)
	}
	if len(e.executed.records) != 0 {
		t.Error("record written for a deleted account")
	}
}

func TestProcessEventLockHeld(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	orch := e.build()

	// Another worker holds the processing lock.
	e.cache.values["lock:process:"+e.account.ID.String()+":m1"] = "1"

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v, want nil drop", err)
	}
	if len(e.executed.records) != 0 {
		t.Error("duplicate delivery produced a record")
	}
}

func TestProcessEventLockStoreDown(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	e.ruleRepo.rules = []*domain.Rule{archiveRule(e.account.ID)}
	orch := e.build()

	// Lock store outage must requeue the event, not ack and drop it.
	e.cache.setErr = errors.New("connection refused")

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err == nil {
		t.Fatal("ProcessEvent() = nil during a lock store outage, want error")
	}
	if len(e.executed.records) != 0 {
		t.Error("execution record created without the processing lock")
	}
	if len(e.provider.archived) != 0 {
		t.Error("rule action ran without the processing lock")
	}
}

func TestProcessEventMessageGone(t *testing.T) {
	e := newEnv()
	e.provider.messageErr = errNotFound
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v, want nil for a deleted message", err)
	}
}

func TestProcessEventProviderFailure(t *testing.T) {
	e := newEnv()
	e.provider.messageErr = errors.New("provider 500")
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err == nil {
		t.Error("ProcessEvent() = nil, transient provider errors must requeue")
	}
}

func TestProcessEventDraftDropped(t *testing.T) {
	e := newEnv()
	msg := inboxMessage("m1")
	msg.Labels = []string{domain.LabelDraft}
	e.provider.message = msg
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(e.executed.records) != 0 {
		t.Error("draft produced a record")
	}
}

func TestProcessEventAlreadyDecided(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	e.executed.exists = true
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v, want nil drop for a decided message", err)
	}
	if len(e.executed.records) != 0 {
		t.Error("decided message produced a second record")
	}
}

func TestProcessEventDecisionLookupFailsClosed(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	e.executed.existsErr = errors.New("db down")
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err == nil {
		t.Error("ProcessEvent() = nil when the decision record is unreadable; must requeue")
	}
}

func TestProcessEventAssistantRouting(t *testing.T) {
	e := newEnv()
	e.account.AssistantAlias = "assistant@example.com"
	msg := inboxMessage("m1")
	msg.To = []domain.Address{{Email: "Assistant@Example.com"}}
	e.provider.message = msg

	var routed *domain.Message
	e.assistant = func(ctx context.Context, account *domain.Account, m *domain.Message) error {
		routed = m
		return nil
	}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if routed == nil {
		t.Fatal("assistant hook not invoked")
	}
	if len(e.executed.records) != 0 {
		t.Error("assistant message fell through to the rule pipeline")
	}
}

func TestProcessEventAssistantPlusTagFallback(t *testing.T) {
	e := newEnv()
	e.tag = "assistant"
	msg := inboxMessage("m1")
	msg.To = []domain.Address{{Email: "me+assistant@example.com"}}
	e.provider.message = msg

	var routed *domain.Message
	e.assistant = func(ctx context.Context, account *domain.Account, m *domain.Message) error {
		routed = m
		return nil
	}
	orch := e.build()

	// No per-account alias; the configured plus-tag on the account's own
	// address routes to the assistant instead.
	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if routed == nil {
		t.Fatal("assistant hook not invoked for the plus-tag address")
	}
}

func TestAssistantAddress(t *testing.T) {
	tests := []struct {
		name  string
		alias string
		tag   string
		email string
		want  string
	}{
		{"explicit alias wins", "helper@example.com", "assistant", "me@example.com", "helper@example.com"},
		{"plus tag fallback", "", "assistant", "me@example.com", "me+assistant@example.com"},
		{"no alias and no tag", "", "", "me@example.com", ""},
		{"malformed account address", "", "assistant", "not-an-address", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv()
			e.tag = tt.tag
			e.account.Email = tt.email
			e.account.AssistantAlias = tt.alias
			orch := e.build()
			if got := orch.assistantAddress(e.account); got != tt.want {
				t.Errorf("assistantAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessEventAssistantWithoutHandler(t *testing.T) {
	e := newEnv()
	e.account.AssistantAlias = "assistant@example.com"
	msg := inboxMessage("m1")
	msg.To = []domain.Address{{Email: "assistant@example.com"}}
	e.provider.message = msg
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v, want nil drop without a handler", err)
	}
}

func TestProcessEventUnsubscribedSender(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	e.senders.unsubscribed["news@acme.com"] = true
	e.ruleRepo.rules = []*domain.Rule{archiveRule(e.account.ID)}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	// No record: the message stays eligible if the sender is unblocked.
	if len(e.executed.records) != 0 {
		t.Error("unsubscribed sender produced a record")
	}
	if len(e.provider.archived) != 0 {
		t.Error("rules ran for an unsubscribed sender")
	}
}

func TestProcessEventColdEmailBlocked(t *testing.T) {
	e := newEnv()
	e.account.AIAccess = true
	e.account.ColdEmailPolicy = domain.ColdEmailArchiveLabel
	e.provider.message = inboxMessage("m1")
	e.classifier.verdict = out.ColdEmailVerdict{IsColdEmail: true, Reason: "unsolicited pitch"}
	e.ruleRepo.rules = []*domain.Rule{archiveRule(e.account.ID)}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if !e.senders.cold["news@acme.com"] {
		t.Error("cold verdict not persisted")
	}
	if len(e.provider.labeled) == 0 {
		t.Error("cold-email label not applied")
	}
	if len(e.provider.archived) != 1 {
		t.Errorf("archived %d messages under archive_label policy, want 1", len(e.provider.archived))
	}
	if len(e.executed.records) != 0 {
		t.Error("blocked message produced a decision record")
	}
}

func TestProcessEventAutomationDisabled(t *testing.T) {
	e := newEnv()
	e.account.AutomationEnabled = false
	e.provider.message = inboxMessage("m1")
	e.ruleRepo.rules = []*domain.Rule{archiveRule(e.account.ID)}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(e.executed.records) != 0 {
		t.Error("rules ran with automation disabled")
	}
}

func TestProcessEventNoMatchRecorded(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(e.executed.records) != 1 {
		t.Fatalf("records = %d, want 1 skipped record", len(e.executed.records))
	}
	if got := e.executed.records[0].Status; got != domain.StatusSkipped {
		t.Errorf("record status = %q, want skipped", got)
	}
}

func TestProcessEventMatchExecutes(t *testing.T) {
	e := newEnv()
	e.provider.message = inboxMessage("m1")
	e.ruleRepo.rules = []*domain.Rule{archiveRule(e.account.ID)}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m1")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(e.provider.archived) != 1 {
		t.Fatalf("archived %d messages, want 1", len(e.provider.archived))
	}
	if len(e.executed.records) != 1 {
		t.Fatalf("records = %d, want 1", len(e.executed.records))
	}
	if got := e.executed.records[0].Status; got != domain.StatusApplied {
		t.Errorf("record status = %q, want applied", got)
	}
}

func TestProcessEventOutbound(t *testing.T) {
	e := newEnv()
	sent := inboxMessage("m-sent")
	sent.Labels = []string{domain.LabelSent}
	sent.Date = time.Now()

	stale := inboxMessage("d-old")
	stale.Labels = []string{domain.LabelDraft}
	stale.Date = sent.Date.Add(-time.Hour)
	fresh := inboxMessage("d-new")
	fresh.Labels = []string{domain.LabelDraft}
	fresh.Date = sent.Date.Add(time.Hour)

	e.provider.message = sent
	e.provider.drafts = []*domain.Message{stale, fresh}
	orch := e.build()

	if err := orch.ProcessEvent(context.Background(), e.event("m-sent")); err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if len(e.trackers.resolved) == 0 {
		t.Fatal("outbound message resolved no trackers")
	}
	types := e.trackers.resolved[0]
	if len(types) != 2 || types[0] != domain.TrackNeedsReply || types[1] != domain.TrackNeedsAction {
		t.Errorf("resolved types = %v, want [needs_reply needs_action]", types)
	}
	if len(e.trackers.created) != 1 || e.trackers.created[0].Type != domain.TrackAwaiting {
		t.Errorf("created trackers = %+v, want one awaiting row", e.trackers.created)
	}
	if len(e.provider.deleted) != 1 || e.provider.deleted[0] != "d-old" {
		t.Errorf("deleted drafts = %v, want only the stale one", e.provider.deleted)
	}
}
