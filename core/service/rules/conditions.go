package rules

import (
	"context"
	"strings"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// ============================================
// Condition Evaluation
// ============================================

// matchField implements the static matching rule: a pattern wrapped in
// double quotes requires an exact (case-insensitive) match, anything
// else is a case-insensitive substring match. An empty pattern always
// matches so partially-filled static conditions behave as AND over the
// populated fields only.
func matchField(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if len(pattern) >= 2 && strings.HasPrefix(pattern, `"`) && strings.HasSuffix(pattern, `"`) {
		return strings.EqualFold(pattern[1:len(pattern)-1], strings.TrimSpace(value))
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

// evalStatic checks every populated field of a static condition
// against the message headers.
func evalStatic(c *domain.StaticCondition, m *domain.Message) bool {
	if c == nil || c.Empty() {
		return false
	}
	if !matchField(c.From, m.From.String()) {
		return false
	}
	if !matchField(c.Subject, m.Subject) {
		return false
	}
	if c.To != "" {
		found := false
		for _, addr := range m.To {
			if matchField(c.To, addr.String()) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// evalGroup asks the group store whether the sender (by full address
// or by domain) belongs to the referenced group. Lookup failures count
// as no-match so one bad group never stalls the whole rule list.
func (m *Matcher) evalGroup(ctx context.Context, c *domain.GroupCondition, msg *domain.Message) bool {
	if c == nil {
		return false
	}
	member, err := m.groups.IsMember(ctx, c.GroupID, msg.From.Email, msg.From.Domain())
	if err != nil {
		m.log.Warn("group lookup failed, treating as no match: group=%s err=%v", c.GroupID, err)
		return false
	}
	return member
}

// evalCategory matches when the sender has a stored category that
// appears in the condition's category list.
func (m *Matcher) evalCategory(ctx context.Context, c *domain.CategoryCondition, account *domain.Account, msg *domain.Message) bool {
	if c == nil || len(c.Categories) == 0 {
		return false
	}
	cat, err := m.senders.GetCategory(ctx, account.ID, msg.From.Email)
	if err != nil {
		m.log.Warn("sender category lookup failed, treating as no match: sender=%s err=%v", msg.From.Email, err)
		return false
	}
	if cat == nil {
		return false
	}
	for _, want := range c.Categories {
		if strings.EqualFold(want, cat.Category) {
			return true
		}
	}
	return false
}

// evalDeterministic evaluates the non-model condition variants. AI
// conditions are handled separately since they are batched into a
// single model call.
func (m *Matcher) evalDeterministic(ctx context.Context, r *domain.Rule, account *domain.Account, msg *domain.Message) bool {
	switch r.Condition.Type {
	case domain.ConditionStatic:
		return evalStatic(r.Condition.Static, msg)
	case domain.ConditionGroup:
		return m.evalGroup(ctx, r.Condition.Group, msg)
	case domain.ConditionCategory:
		return m.evalCategory(ctx, r.Condition.Category, account, msg)
	default:
		return false
	}
}
