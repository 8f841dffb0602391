package out

import (
	"context"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// CriteriaRequest carries everything the AI rule evaluator sees: the
// candidate rules' instructions, the account persona and a bounded
// rendering of the message.
type CriteriaRequest struct {
	Rules   []*domain.Rule
	About   string
	Message *domain.Message
}

// CriteriaResult is the evaluator's verdict. RuleName is empty when no rule
// applies; Justification is always populated for auditability. Args holds
// values the model extracted from the message for template rendering.
type CriteriaResult struct {
	RuleName      string
	Justification string
	Confidence    float64
	Args          map[string]string
}

// CriteriaEvaluator matches natural-language rule instructions against a
// message. Errors and timeouts are treated as no-match by callers.
type CriteriaEvaluator interface {
	MatchRule(ctx context.Context, req *CriteriaRequest) (*CriteriaResult, error)
}

// ColdEmailVerdict is the cold-email classifier's answer.
type ColdEmailVerdict struct {
	IsColdEmail bool
	Reason      string
}

// ColdEmailClassifier decides cold-outreach vs. legitimate for senders with
// no prior communication history.
type ColdEmailClassifier interface {
	ClassifyColdEmail(ctx context.Context, account *domain.Account, msg *domain.Message) (*ColdEmailVerdict, error)
}

// SenderCategorizer assigns a category ("newsletter", "receipt", ...) to a
// previously unseen sender. Best-effort; failures never stop the pipeline.
type SenderCategorizer interface {
	CategorizeSender(ctx context.Context, account *domain.Account, msg *domain.Message) (string, error)
}
