package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
)

func testAccount() *domain.Account {
	return &domain.Account{ID: uuid.New(), Email: "me@example.com"}
}

func testMessage() *domain.Message {
	return &domain.Message{
		ID:       "m1",
		ThreadID: "t1",
		From:     domain.Address{Email: "news@acme.com"},
		To:       []domain.Address{{Email: "me@example.com"}},
		Subject:  "Weekly update",
		Date:     time.Now(),
	}
}

func newTestMatcher(rules *fakeRuleRepo, senders *fakeSenderRepo, groups *fakeGroupRepo, eval *fakeEvaluator) *Matcher {
	if senders == nil {
		senders = newFakeSenderRepo()
	}
	if groups == nil {
		groups = &fakeGroupRepo{}
	}
	if eval == nil {
		eval = &fakeEvaluator{verdict: &out.CriteriaResult{}}
	}
	return NewMatcher(rules, senders, groups, eval, nil)
}

func TestMatchEmptyRuleTable(t *testing.T) {
	m := newTestMatcher(&fakeRuleRepo{}, nil, nil, nil)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Matched() {
		t.Errorf("Match() matched with no rules")
	}
}

func TestMatchRepositoryErrorPropagates(t *testing.T) {
	m := newTestMatcher(&fakeRuleRepo{err: errors.New("db down")}, nil, nil, nil)

	if _, err := m.Match(context.Background(), testAccount(), testMessage()); err == nil {
		t.Fatal("Match() error = nil, want error")
	}
}

func TestMatchTierPrecedence(t *testing.T) {
	// A category rule listed first and a static rule listed second: the
	// static tier still wins.
	account := testAccount()
	categoryRule := &domain.Rule{
		ID:      uuid.New(),
		Name:    "newsletters",
		Enabled: true,
		Condition: domain.Condition{
			Type:     domain.ConditionCategory,
			Category: &domain.CategoryCondition{Categories: []string{"newsletter"}},
		},
		Order: 1,
	}
	staticRule := &domain.Rule{
		ID:      uuid.New(),
		Name:    "acme mail",
		Enabled: true,
		Condition: domain.Condition{
			Type:   domain.ConditionStatic,
			Static: &domain.StaticCondition{From: "acme.com"},
		},
		Order: 2,
	}

	senders := newFakeSenderRepo()
	senders.categories["news@acme.com"] = &domain.SenderCategory{Category: "newsletter"}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{categoryRule, staticRule}}, senders, nil, nil)

	got, err := m.Match(context.Background(), account, testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Primary() == nil || got.Primary().Name != "acme mail" {
		t.Fatalf("Primary() = %v, want static rule", got.Primary())
	}
	if len(got.Rules) != 1 {
		t.Errorf("single-match account returned %d rules", len(got.Rules))
	}
}

func TestMatchMultiRuleCollectsAll(t *testing.T) {
	account := testAccount()
	account.MultiRuleMatch = true

	r1 := &domain.Rule{
		ID:      uuid.New(),
		Name:    "from acme",
		Enabled: true,
		Condition: domain.Condition{
			Type:   domain.ConditionStatic,
			Static: &domain.StaticCondition{From: "acme.com"},
		},
	}
	r2 := &domain.Rule{
		ID:      uuid.New(),
		Name:    "updates",
		Enabled: true,
		Condition: domain.Condition{
			Type:   domain.ConditionStatic,
			Static: &domain.StaticCondition{Subject: "update"},
		},
	}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{r1, r2}}, nil, nil, nil)

	got, err := m.Match(context.Background(), account, testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if len(got.Rules) != 2 {
		t.Fatalf("got %d rules, want 2", len(got.Rules))
	}
}

func TestMatchAIRule(t *testing.T) {
	rule := &domain.Rule{
		ID:      uuid.New(),
		Name:    "support requests",
		Enabled: true,
		Condition: domain.Condition{
			Type: domain.ConditionAI,
			AI:   &domain.AICondition{Instructions: "customer asking for help"},
		},
	}
	eval := &fakeEvaluator{verdict: &out.CriteriaResult{
		RuleName:      "support requests",
		Justification: "the sender asks for help",
		Confidence:    0.92,
		Args:          map[string]string{"ticket_id": "TK-113"},
	}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, nil, nil, eval)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Primary() != rule {
		t.Fatalf("Primary() = %v, want AI rule", got.Primary())
	}
	if got.Justification != "the sender asks for help" {
		t.Errorf("Justification = %q", got.Justification)
	}
	if got.Args["ticket_id"] != "TK-113" {
		t.Errorf("Args = %v, want the evaluator-extracted values", got.Args)
	}
	if got.ViaPattern {
		t.Error("ViaPattern = true for a live evaluator match")
	}
}

func TestMatchEvaluatorFailureDegradesToNoMatch(t *testing.T) {
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "ai rule",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "x"}},
	}
	eval := &fakeEvaluator{err: errors.New("model timeout")}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, nil, nil, eval)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v, evaluator failures must not propagate", err)
	}
	if got.Matched() {
		t.Error("Match() matched despite evaluator failure")
	}
}

func TestMatchUnknownRuleNameIsNoMatch(t *testing.T) {
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "real rule",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "x"}},
	}
	eval := &fakeEvaluator{verdict: &out.CriteriaResult{RuleName: "hallucinated rule"}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, nil, nil, eval)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Matched() {
		t.Error("Match() accepted a rule name the table does not contain")
	}
}

func TestMatchPatternShortcut(t *testing.T) {
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "newsletter triage",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "x"}},
	}
	senders := newFakeSenderRepo()
	senders.patterns["news@acme.com"] = &domain.SenderPattern{
		Sender:      "news@acme.com",
		RuleID:      rule.ID,
		ThreadCount: domain.MinPatternThreads,
		AnalyzedAt:  time.Now(),
	}
	eval := &fakeEvaluator{verdict: &out.CriteriaResult{}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, senders, nil, eval)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Primary() != rule {
		t.Fatal("pattern shortcut did not select the learned rule")
	}
	if !got.ViaPattern {
		t.Error("ViaPattern = false for a shortcut match")
	}
	if eval.calls != 0 {
		t.Errorf("evaluator called %d time(s) despite trusted pattern", eval.calls)
	}
}

func TestMatchStalePatternFallsThroughToEvaluator(t *testing.T) {
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "newsletter triage",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "x"}},
	}
	senders := newFakeSenderRepo()
	senders.patterns["news@acme.com"] = &domain.SenderPattern{
		Sender:      "news@acme.com",
		RuleID:      rule.ID,
		ThreadCount: domain.MinPatternThreads,
		AnalyzedAt:  time.Now().Add(-domain.PatternMaxAge - time.Hour),
	}
	eval := &fakeEvaluator{verdict: &out.CriteriaResult{}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, senders, nil, eval)

	if _, err := m.Match(context.Background(), testAccount(), testMessage()); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1 for a stale pattern", eval.calls)
	}
}

func TestMatchMultiRuleSkipsPatternShortcut(t *testing.T) {
	account := testAccount()
	account.MultiRuleMatch = true

	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "newsletter triage",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionAI, AI: &domain.AICondition{Instructions: "x"}},
	}
	senders := newFakeSenderRepo()
	senders.patterns["news@acme.com"] = &domain.SenderPattern{
		Sender:      "news@acme.com",
		RuleID:      rule.ID,
		ThreadCount: domain.MinPatternThreads,
		AnalyzedAt:  time.Now(),
	}
	eval := &fakeEvaluator{verdict: &out.CriteriaResult{}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, senders, nil, eval)

	if _, err := m.Match(context.Background(), account, testMessage()); err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if eval.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1; multi-match accounts never take the shortcut", eval.calls)
	}
}

func TestMatchGroupCondition(t *testing.T) {
	groupID := uuid.New()
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "vendors",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionGroup, Group: &domain.GroupCondition{GroupID: groupID}},
	}
	groups := &fakeGroupRepo{members: map[uuid.UUID]map[string]bool{
		groupID: {"acme.com": true},
	}}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, nil, groups, nil)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got.Primary() != rule {
		t.Error("group condition did not match by sender domain")
	}
}

func TestMatchGroupLookupFailureIsNoMatch(t *testing.T) {
	rule := &domain.Rule{
		ID:        uuid.New(),
		Name:      "vendors",
		Enabled:   true,
		Condition: domain.Condition{Type: domain.ConditionGroup, Group: &domain.GroupCondition{GroupID: uuid.New()}},
	}
	groups := &fakeGroupRepo{err: errors.New("db down")}

	m := newTestMatcher(&fakeRuleRepo{rules: []*domain.Rule{rule}}, nil, groups, nil)

	got, err := m.Match(context.Background(), testAccount(), testMessage())
	if err != nil {
		t.Fatalf("Match() error = %v, group lookup failures must degrade", err)
	}
	if got.Matched() {
		t.Error("Match() matched despite group lookup failure")
	}
}
