package rules

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

func newTestExecutor(executed *fakeExecutedRepo, digests *fakeDigestRepo, tracking *fakeTracking) *Executor {
	if executed == nil {
		executed = newFakeExecutedRepo()
	}
	if digests == nil {
		digests = &fakeDigestRepo{}
	}
	if tracking == nil {
		tracking = &fakeTracking{}
	}
	return NewExecutor(executed, digests, tracking, nil, nil)
}

func matchOf(rules ...*domain.Rule) *Match {
	return &Match{Rules: rules, Justification: "test"}
}

func automatedRule(actions ...domain.Action) *domain.Rule {
	return &domain.Rule{
		ID:        uuid.New(),
		Name:      "test rule",
		Enabled:   true,
		Automate:  true,
		Condition: domain.Condition{Type: domain.ConditionStatic},
		Actions:   actions,
	}
}

func TestExecuteArchiveAction(t *testing.T) {
	executed := newFakeExecutedRepo()
	e := newTestExecutor(executed, nil, nil)
	provider := newFakeProvider()
	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})

	outcome, err := e.Execute(context.Background(), provider, testAccount(), testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Status != domain.StatusApplied {
		t.Errorf("Status = %v, want applied", outcome.Status)
	}
	if len(provider.archived) != 1 || provider.archived[0] != "m1" {
		t.Errorf("archived = %v, want [m1]", provider.archived)
	}
	if got := executed.finalized[1]; got != domain.StatusApplied {
		t.Errorf("finalized status = %v, want applied", got)
	}
}

func TestExecuteAutomationOffSuggestsEverything(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()
	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})
	rule.Automate = false

	outcome, err := e.Execute(context.Background(), provider, testAccount(), testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Status != domain.StatusSuggested {
		t.Errorf("Status = %v, want suggested", outcome.Status)
	}
	if len(provider.archived) != 0 {
		t.Error("action ran despite Automate=false")
	}
	if !outcome.Results[0].Suggested || outcome.Results[0].Executed {
		t.Errorf("result = %+v, want suggested and not executed", outcome.Results[0])
	}
}

func TestExecuteRiskCeilingGatesAction(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()

	// Fully templated content on a send action rates high.
	rule := automatedRule(domain.Action{
		ID:      uuid.New(),
		Type:    domain.ActionSend,
		To:      "boss@example.com",
		Content: "{{content}}",
	})

	account := testAccount()
	account.AutonomyCeiling = domain.RiskMedium

	outcome, err := e.Execute(context.Background(), provider, account, testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(provider.sent) != 0 {
		t.Error("high-risk action ran under a medium ceiling")
	}
	if outcome.Status != domain.StatusSuggested {
		t.Errorf("Status = %v, want suggested", outcome.Status)
	}

	// Raising the ceiling lets the same action run.
	account.AutonomyCeiling = domain.RiskHigh
	e2 := newTestExecutor(nil, nil, nil)
	outcome, err = e2.Execute(context.Background(), provider, account, testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatal("action did not run once the ceiling allowed it")
	}
	if outcome.Status != domain.StatusApplied {
		t.Errorf("Status = %v, want applied", outcome.Status)
	}
}

func TestExecuteDuplicatePassesThrough(t *testing.T) {
	executed := newFakeExecutedRepo()
	executed.createErr = apperr.Duplicate("executed rule")
	e := newTestExecutor(executed, nil, nil)
	provider := newFakeProvider()
	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})

	_, err := e.Execute(context.Background(), provider, testAccount(), testMessage(), matchOf(rule))
	if !apperr.IsDuplicate(err) {
		t.Fatalf("Execute() error = %v, want duplicate", err)
	}
	if len(provider.archived) != 0 {
		t.Error("side effect ran after losing the decision slot")
	}
}

func TestExecuteActionFailureIsPartial(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()
	provider.sendErr = errors.New("quota exceeded")
	rule := automatedRule(
		domain.Action{ID: uuid.New(), Type: domain.ActionArchive},
		domain.Action{ID: uuid.New(), Type: domain.ActionReply, Content: "thanks"},
	)

	outcome, err := e.Execute(context.Background(), provider, testAccount(), testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v, action failures stay in the outcome", err)
	}
	if outcome.Status != domain.StatusPartiallyFailed {
		t.Errorf("Status = %v, want partially_failed", outcome.Status)
	}
	// The sibling action still ran.
	if len(provider.archived) != 1 {
		t.Error("archive action blocked by the failing reply")
	}
	if outcome.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", outcome.Failed())
	}
}

func TestExecuteReplyComposition(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()
	rule := automatedRule(domain.Action{
		ID:      uuid.New(),
		Type:    domain.ActionReply,
		Content: "Hi {{sender_name}}, received.",
	})

	msg := testMessage()
	msg.From = domain.Address{Name: "Ada", Email: "ada@example.com"}
	msg.Subject = "Invoice"
	msg.RFCMessageID = "<abc@mail>"

	account := testAccount()
	account.AutonomyCeiling = domain.RiskHigh

	if _, err := e.Execute(context.Background(), provider, account, msg, matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatal("reply not sent")
	}
	sent := provider.sent[0]
	if len(sent.To) != 1 || sent.To[0].Email != "ada@example.com" {
		t.Errorf("To = %v, want original sender", sent.To)
	}
	if sent.Subject != "Re: Invoice" {
		t.Errorf("Subject = %q, want Re: prefix", sent.Subject)
	}
	if sent.InReplyTo != "<abc@mail>" {
		t.Errorf("InReplyTo = %q", sent.InReplyTo)
	}
	if sent.Text != "Hi Ada, received." {
		t.Errorf("Text = %q, template not rendered", sent.Text)
	}
}

func TestExecuteForwardBuildsQuotedBody(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()
	rule := automatedRule(domain.Action{
		ID:      uuid.New(),
		Type:    domain.ActionForward,
		To:      "archive@example.com",
		Content: "FYI",
	})

	msg := testMessage()
	msg.TextPlain = "original body"

	if _, err := e.Execute(context.Background(), provider, testAccount(), msg, matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatal("forward not sent")
	}
	sent := provider.sent[0]
	if !strings.HasPrefix(sent.Subject, "Fwd: ") {
		t.Errorf("Subject = %q, want Fwd: prefix", sent.Subject)
	}
	if !strings.Contains(sent.Text, "FYI") || !strings.Contains(sent.Text, "original body") {
		t.Errorf("forward body missing note or original: %q", sent.Text)
	}
}

func TestExecuteTrackThreadDefaultsToNeedsReply(t *testing.T) {
	tracking := &fakeTracking{}
	e := newTestExecutor(nil, nil, tracking)
	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionTrackThread})

	if _, err := e.Execute(context.Background(), newFakeProvider(), testAccount(), testMessage(), matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(tracking.calls) != 1 {
		t.Fatal("track_thread action did not reach the tracker")
	}
	if tracking.calls[0].typ != domain.TrackNeedsReply {
		t.Errorf("tracker type = %v, want needs_reply", tracking.calls[0].typ)
	}
}

func TestExecuteDigestActionDefaultsToSnippet(t *testing.T) {
	digests := &fakeDigestRepo{}
	e := newTestExecutor(nil, digests, nil)
	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionDigest})

	msg := testMessage()
	msg.Snippet = "preview text"

	if _, err := e.Execute(context.Background(), newFakeProvider(), testAccount(), msg, matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(digests.items) != 1 {
		t.Fatal("digest item not queued")
	}
	if digests.items[0].Content != "preview text" {
		t.Errorf("Content = %q, want message snippet", digests.items[0].Content)
	}
	if digests.items[0].RuleName != "test rule" {
		t.Errorf("RuleName = %q", digests.items[0].RuleName)
	}
}

func TestExecuteRecordCarriesMaxRisk(t *testing.T) {
	executed := newFakeExecutedRepo()
	e := newTestExecutor(executed, nil, nil)
	rule := automatedRule(
		domain.Action{ID: uuid.New(), Type: domain.ActionArchive},
		domain.Action{ID: uuid.New(), Type: domain.ActionSend, To: "x@example.com", Content: "{{content}}"},
	)

	account := testAccount()
	account.AutonomyCeiling = domain.RiskVeryHigh

	if _, err := e.Execute(context.Background(), newFakeProvider(), account, testMessage(), matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(executed.records) != 1 {
		t.Fatal("no decision record written")
	}
	if executed.records[0].Risk != domain.RiskHigh {
		t.Errorf("record risk = %v, want high (the riskiest action)", executed.records[0].Risk)
	}
	if executed.records[0].Status != domain.StatusApplying {
		t.Errorf("record written with status %v, want applying before side effects", executed.records[0].Status)
	}
}

func TestRecordNoMatchToleratesDuplicate(t *testing.T) {
	executed := newFakeExecutedRepo()
	executed.createErr = apperr.Duplicate("executed rule")
	e := newTestExecutor(executed, nil, nil)

	if err := e.RecordNoMatch(context.Background(), testAccount(), testMessage(), "no rule matched"); err != nil {
		t.Errorf("RecordNoMatch() error = %v, duplicate should be swallowed", err)
	}
}

func TestParseAddressList(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"   ", 0},
		{"a@example.com", 1},
		{"a@example.com, b@example.com", 2},
		{"a@example.com, , b@example.com,", 2},
	}
	for _, tt := range tests {
		if got := parseAddressList(tt.input); len(got) != tt.want {
			t.Errorf("parseAddressList(%q) = %d addresses, want %d", tt.input, len(got), tt.want)
		}
	}
}

func TestComposeReplyUsesReplyTo(t *testing.T) {
	msg := testMessage()
	msg.ReplyTo = "replies@acme.com"

	out := composeReply(msg, &domain.Action{Type: domain.ActionReply})
	if len(out.To) != 1 || out.To[0].Email != "replies@acme.com" {
		t.Errorf("To = %v, want Reply-To address", out.To)
	}
}

func TestComposeReplyKeepsExistingRePrefix(t *testing.T) {
	msg := testMessage()
	msg.Subject = "Re: Invoice"

	out := composeReply(msg, &domain.Action{Type: domain.ActionReply})
	if out.Subject != "Re: Invoice" {
		t.Errorf("Subject = %q, want unchanged", out.Subject)
	}
}

func TestFinalStatusOrdering(t *testing.T) {
	mk := func(results ...domain.ActionResult) *domain.ExecutionOutcome {
		return &domain.ExecutionOutcome{Results: results}
	}
	tests := []struct {
		name    string
		outcome *domain.ExecutionOutcome
		want    domain.ExecutedStatus
	}{
		{"all executed", mk(domain.ActionResult{Executed: true}), domain.StatusApplied},
		{"any failure wins", mk(domain.ActionResult{Executed: true}, domain.ActionResult{Error: "x"}, domain.ActionResult{Suggested: true}), domain.StatusPartiallyFailed},
		{"suggestion beats applied", mk(domain.ActionResult{Executed: true}, domain.ActionResult{Suggested: true}), domain.StatusSuggested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := finalStatus(tt.outcome); got != tt.want {
				t.Errorf("finalStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecuteSchedulesPatternAnalysisAfterAIMatch(t *testing.T) {
	queue := &fakeQueue{}
	e := NewExecutor(newFakeExecutedRepo(), &fakeDigestRepo{}, &fakeTracking{}, queue, nil)
	provider := newFakeProvider()

	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})
	rule.Condition = domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "newsletters"}}

	if _, err := e.Execute(context.Background(), provider, testAccount(), testMessage(), matchOf(rule)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d jobs, want 1", len(queue.enqueued))
	}
	call := queue.enqueued[0]
	if call.queue != out.QueueMaintenance {
		t.Errorf("queue = %q, want maintenance", call.queue)
	}
	if call.job.Type != "maintenance.pattern_analyze" {
		t.Errorf("job type = %q", call.job.Type)
	}
	if got := call.job.Payload["sender"]; got != "news@acme.com" {
		t.Errorf("payload sender = %v", got)
	}
	if !strings.HasPrefix(call.job.ID, "pattern_analyze:") {
		t.Errorf("job ID = %q, want pattern_analyze prefix", call.job.ID)
	}
	if call.opts == nil || call.opts.Delay <= 0 {
		t.Error("pattern analysis job enqueued without a delay")
	}
}

func TestExecuteSkipsPatternAnalysisScheduling(t *testing.T) {
	aiRule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})
	aiRule.Condition = domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "newsletters"}}

	tests := []struct {
		name  string
		match *Match
	}{
		{"deterministic match", matchOf(automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive}))},
		{"sender pattern shortcut", &Match{Rules: []*domain.Rule{aiRule}, Justification: "learned sender pattern", ViaPattern: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			e := NewExecutor(newFakeExecutedRepo(), &fakeDigestRepo{}, &fakeTracking{}, queue, nil)

			if _, err := e.Execute(context.Background(), newFakeProvider(), testAccount(), testMessage(), tt.match); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(queue.enqueued) != 0 {
				t.Errorf("enqueued = %d jobs, want 0", len(queue.enqueued))
			}
		})
	}
}

func TestExecuteSwallowsSchedulingFailure(t *testing.T) {
	queue := &fakeQueue{enqueueErr: errors.New("redis down")}
	e := NewExecutor(newFakeExecutedRepo(), &fakeDigestRepo{}, &fakeTracking{}, queue, nil)

	rule := automatedRule(domain.Action{ID: uuid.New(), Type: domain.ActionArchive})
	rule.Condition = domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "newsletters"}}

	outcome, err := e.Execute(context.Background(), newFakeProvider(), testAccount(), testMessage(), matchOf(rule))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Status != domain.StatusApplied {
		t.Errorf("Status = %v, want applied despite scheduling failure", outcome.Status)
	}
}

func TestExecuteRendersEvaluatorArgs(t *testing.T) {
	e := newTestExecutor(nil, nil, nil)
	provider := newFakeProvider()

	rule := automatedRule(domain.Action{
		ID:      uuid.New(),
		Type:    domain.ActionReply,
		Content: "Ticket {{ticket_id}} from {{sender_email}} is queued",
	})
	account := testAccount()
	account.AutonomyCeiling = domain.RiskHigh

	match := matchOf(rule)
	match.Args = map[string]string{
		"ticket_id":    "TK-113",
		"sender_email": "spoofed@evil.test", // must lose to the message field
	}

	if _, err := e.Execute(context.Background(), provider, account, testMessage(), match); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(provider.sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(provider.sent))
	}
	if got := provider.sent[0].Text; got != "Ticket TK-113 from news@acme.com is queued" {
		t.Errorf("rendered content = %q", got)
	}
}
