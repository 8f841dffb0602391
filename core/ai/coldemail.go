package ai

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
)

const coldEmailSystemPrompt = `You detect cold outreach email. A cold email is unsolicited mail from someone the recipient has no relationship with, trying to sell a product or service, recruit, pitch an agency, or book a call.

Not cold email: mail from real acquaintances, customer or vendor threads, transactional mail, newsletters the user subscribed to, or replies to the user's own outreach.

Respond with this exact JSON format:
{
  "cold_email": true|false,
  "reason": "one sentence"
}`

// ClassifyColdEmail implements out.ColdEmailClassifier.
func (c *Client) ClassifyColdEmail(ctx context.Context, account *domain.Account, msg *domain.Message) (*out.ColdEmailVerdict, error) {
	userPrompt := fmt.Sprintf("Recipient: %s\n", account.Email)
	if account.About != "" {
		userPrompt += fmt.Sprintf("About the recipient:\n%s\n", account.About)
	}
	userPrompt += fmt.Sprintf("\nFrom: %s <%s>\nSubject: %s\n\n%s\n",
		msg.From.Name, msg.From.Email, msg.Subject, truncate(msg.BestBody(), 3000))

	resp, err := c.CompleteWithSystem(ctx, coldEmailSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		ColdEmail bool   `json:"cold_email"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse cold email response: %w", err)
	}

	return &out.ColdEmailVerdict{IsColdEmail: parsed.ColdEmail, Reason: parsed.Reason}, nil
}
