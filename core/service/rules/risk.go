package rules

import "github.com/elie222/inbox-zero-sub011/core/domain"

// ============================================
// Risk Model
// ============================================
//
// Only actions that move mail out of the account (reply, send,
// forward) carry risk. The ladder depends on how much of the outgoing
// content and recipient set is template-derived, and on whether the
// rule was matched by the model rather than by a deterministic
// condition. The classification is monotonic: making a field more
// dynamic, or switching the rule to model matching, never lowers the
// resulting level.

// ComputeRisk classifies a single action in the context of its rule.
// The action must be unrendered; dynamism is judged on the authored
// template, not on the rendered output.
func ComputeRisk(rule *domain.Rule, a *domain.Action) domain.RiskLevel {
	switch a.Type {
	case domain.ActionReply, domain.ActionSend, domain.ActionForward:
	default:
		return domain.RiskLow
	}

	content := maxDynamism(a.Subject, a.Content)
	recipient := maxDynamism(a.To, a.CC, a.BCC)

	fullContent := content == DynamismFull
	fullRecipient := recipient == DynamismFull

	var risk domain.RiskLevel
	switch {
	case fullContent && fullRecipient && rule.IsAIMatched():
		risk = domain.RiskVeryHigh
	case fullContent || fullRecipient:
		risk = domain.RiskHigh
	case content == DynamismPartial || recipient == DynamismPartial:
		risk = domain.RiskMedium
	default:
		risk = domain.RiskLow
	}

	// A sending template on a rule the user never cleared for
	// automation rates at least medium.
	if !rule.Automate && risk < domain.RiskMedium {
		risk = domain.RiskMedium
	}
	return risk
}
