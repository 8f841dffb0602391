package rules

import (
	"context"
	"time"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ============================================
// Rule Matcher
// ============================================
//
// Evaluation order is by condition tier: static conditions first, then
// group membership, then sender category, then AI instructions. Within
// a tier the rule-table order decides. AI rules are batched into one
// evaluator call; before paying for that call a trusted sender pattern
// may short-circuit straight to its learned rule.

// Match is the matcher's verdict for one message.
type Match struct {
	// Rules holds the satisfied rules. Single-match accounts get at most
	// one entry; multi-match accounts may get several.
	Rules []*domain.Rule

	// Justification explains AI matches; deterministic matches carry the
	// condition tier instead.
	Justification string

	// Args holds evaluator-extracted values made available to template
	// rendering. Only AI matches populate it.
	Args map[string]string

	// ViaPattern marks a match produced by the sender-pattern shortcut
	// rather than a live evaluator call.
	ViaPattern bool
}

// Matched reports whether any rule applies.
func (m *Match) Matched() bool { return len(m.Rules) > 0 }

// Primary returns the first satisfied rule, or nil.
func (m *Match) Primary() *domain.Rule {
	if len(m.Rules) == 0 {
		return nil
	}
	return m.Rules[0]
}

// Matcher evaluates the account's rule table against a message.
type Matcher struct {
	rules     out.RuleRepository
	senders   out.SenderRepository
	groups    out.GroupRepository
	evaluator out.CriteriaEvaluator
	log       *logger.Logger
	now       func() time.Time
}

// NewMatcher builds a Matcher.
func NewMatcher(
	rules out.RuleRepository,
	senders out.SenderRepository,
	groups out.GroupRepository,
	evaluator out.CriteriaEvaluator,
	log *logger.Logger,
) *Matcher {
	if log == nil {
		log = logger.Default()
	}
	return &Matcher{
		rules:     rules,
		senders:   senders,
		groups:    groups,
		evaluator: evaluator,
		log:       log,
		now:       time.Now,
	}
}

// tierOf orders condition types for evaluation; cheaper and more
// deterministic tiers run first.
func tierOf(t domain.ConditionType) int {
	switch t {
	case domain.ConditionStatic:
		return 0
	case domain.ConditionGroup:
		return 1
	case domain.ConditionCategory:
		return 2
	case domain.ConditionAI:
		return 3
	default:
		return 4
	}
}

// Match evaluates every enabled rule for the account against the
// message. A repository failure loading the rule table is returned as
// an error; evaluator failures degrade to no-match.
func (m *Matcher) Match(ctx context.Context, account *domain.Account, msg *domain.Message) (*Match, error) {
	enabled, err := m.rules.ListEnabled(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		return &Match{}, nil
	}

	log := m.log.WithMessage(account.ID.String(), msg.ThreadID, msg.ID)

	// Stable tier ordering: ListEnabled already returns table order, so a
	// simple bucket pass keeps within-tier order intact.
	var deterministic, aiRules []*domain.Rule
	for _, r := range enabled {
		if r.IsAIMatched() {
			aiRules = append(aiRules, r)
		} else {
			deterministic = append(deterministic, r)
		}
	}
	orderByTier(deterministic)

	result := &Match{}
	for _, r := range deterministic {
		if !m.evalDeterministic(ctx, r, account, msg) {
			continue
		}
		log.Info("rule matched: rule=%s tier=%s", r.Name, r.Condition.Type)
		result.Rules = append(result.Rules, r)
		result.Justification = "condition: " + string(r.Condition.Type)
		if !account.MultiRuleMatch {
			return result, nil
		}
	}

	if len(aiRules) == 0 {
		return result, nil
	}

	// Sender-pattern shortcut. Multi-match accounts always run the full
	// evaluator since the pattern only remembers a single rule.
	if !account.MultiRuleMatch {
		if r := m.patternShortcut(ctx, account, msg, aiRules); r != nil {
			log.Info("rule matched via sender pattern: rule=%s sender=%s", r.Name, msg.From.Email)
			result.Rules = append(result.Rules, r)
			result.Justification = "learned sender pattern"
			result.ViaPattern = true
			return result, nil
		}
	}

	verdict, err := m.evaluator.MatchRule(ctx, &out.CriteriaRequest{
		Rules:   aiRules,
		About:   account.About,
		Message: msg,
	})
	if err != nil {
		// Evaluator outages must not stall the pipeline; the message
		// simply falls through unmatched.
		log.WithError(err).Warn("criteria evaluation failed, treating as no match")
		return result, nil
	}
	if verdict.RuleName == "" {
		log.Debug("no AI rule matched: %s", verdict.Justification)
		return result, nil
	}
	for _, r := range aiRules {
		if r.Name == verdict.RuleName {
			log.Info("rule matched: rule=%s tier=ai confidence=%.2f", r.Name, verdict.Confidence)
			result.Rules = append(result.Rules, r)
			result.Justification = verdict.Justification
			result.Args = verdict.Args
			return result, nil
		}
	}
	log.Warn("evaluator returned unknown rule name %q, treating as no match", verdict.RuleName)
	return result, nil
}

// patternShortcut returns the learned rule for the sender when a
// trusted, fresh pattern exists and its rule is still among the AI
// candidates.
func (m *Matcher) patternShortcut(ctx context.Context, account *domain.Account, msg *domain.Message, candidates []*domain.Rule) *domain.Rule {
	p, err := m.senders.GetPattern(ctx, account.ID, msg.From.Email)
	if err != nil {
		m.log.WithError(err).Warn("pattern lookup failed: sender=%s", msg.From.Email)
		return nil
	}
	if p == nil || !p.Trusted(m.now()) {
		return nil
	}
	for _, r := range candidates {
		if r.ID == p.RuleID {
			return r
		}
	}
	return nil
}

// orderByTier sorts rules by condition tier, keeping rule-table order
// within a tier.
func orderByTier(rules []*domain.Rule) {
	// Insertion sort: the list is small and already mostly ordered.
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && tierOf(rules[j].Condition.Type) < tierOf(rules[j-1].Condition.Type); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}
