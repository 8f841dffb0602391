package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/core/port/out"
)

const criteriaSystemPrompt = `You triage email for a mailbox owner by matching messages against their automation rules. Each rule has a name and natural-language instructions describing which messages it covers.

Pick the single rule whose instructions best fit the message, or none if no rule clearly applies. Never guess: when unsure, answer none.

When the matched rule's instructions mention template variables, extract their values from the message into "args". Omit "args" otherwise.

Respond with this exact JSON format:
{
  "rule": "rule name or null",
  "justification": "one sentence explaining the decision",
  "confidence": 0.0-1.0,
  "args": {"variable_name": "value extracted from the message"}
}`

// MatchRule implements out.CriteriaEvaluator.
func (c *Client) MatchRule(ctx context.Context, req *out.CriteriaRequest) (*out.CriteriaResult, error) {
	var sb strings.Builder

	if req.About != "" {
		fmt.Fprintf(&sb, "About the mailbox owner:\n%s\n\n", req.About)
	}

	sb.WriteString("Rules:\n")
	for _, r := range req.Rules {
		instructions := ""
		if r.Condition.AI != nil {
			instructions = r.Condition.AI.Instructions
		}
		fmt.Fprintf(&sb, "- %q: %s\n", r.Name, instructions)
	}

	m := req.Message
	fmt.Fprintf(&sb, "\nMessage:\nFrom: %s <%s>\nTo: %s\nSubject: %s\n\n%s\n",
		m.From.Name, m.From.Email, m.RecipientList(), m.Subject,
		truncate(m.BestBody(), 4000))

	resp, err := c.CompleteWithSystem(ctx, criteriaSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Rule          *string           `json:"rule"`
		Justification string            `json:"justification"`
		Confidence    float64           `json:"confidence"`
		Args          map[string]string `json:"args"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse criteria response: %w", err)
	}

	result := &out.CriteriaResult{
		Justification: parsed.Justification,
		Confidence:    parsed.Confidence,
		Args:          parsed.Args,
	}
	if parsed.Rule != nil && !strings.EqualFold(*parsed.Rule, "null") && !strings.EqualFold(*parsed.Rule, "none") {
		// Only accept names actually present in the candidate list; the
		// model occasionally invents rule names.
		for _, r := range req.Rules {
			if strings.EqualFold(r.Name, *parsed.Rule) {
				result.RuleName = r.Name
				break
			}
		}
	}

	return result, nil
}
