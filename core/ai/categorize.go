package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// SenderCategories are the category names the categorizer may assign.
// Category rule conditions match against these.
var SenderCategories = []string{
	"newsletter",
	"marketing",
	"receipt",
	"notification",
	"support",
	"personal",
	"work",
	"social",
	"other",
}

const categorizeSystemPrompt = `You assign a category to an email sender based on one message from them.

Respond with this exact JSON format:
{
  "category": "<one of the allowed categories>"
}`

// CategorizeSender implements out.SenderCategorizer.
func (c *Client) CategorizeSender(ctx context.Context, account *domain.Account, msg *domain.Message) (string, error) {
	userPrompt := fmt.Sprintf("Allowed categories: %s\n\nFrom: %s <%s>\nSubject: %s\n\n%s\n",
		strings.Join(SenderCategories, ", "),
		msg.From.Name, msg.From.Email, msg.Subject, truncate(msg.BestBody(), 2000))

	resp, err := c.CompleteWithSystem(ctx, categorizeSystemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp)), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse categorize response: %w", err)
	}

	category := strings.ToLower(strings.TrimSpace(parsed.Category))
	for _, allowed := range SenderCategories {
		if category == allowed {
			return category, nil
		}
	}
	return "other", nil
}
