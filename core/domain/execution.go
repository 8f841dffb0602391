package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel rates how much autonomy an action demands. Ordering is
// significant: higher values require a higher account autonomy ceiling.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}

// ParseRiskLevel parses a stored risk level string, defaulting to medium
// for unknown values so a bad row never widens autonomy.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "low":
		return RiskLow
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	case "very_high":
		return RiskVeryHigh
	default:
		return RiskMedium
	}
}

// ExecutedStatus is the terminal state of a rule decision record.
type ExecutedStatus string

const (
	// StatusApplying is the transitional state written before side effects
	// run; it reserves the (account, thread, message) slot.
	StatusApplying ExecutedStatus = "applying"

	StatusApplied         ExecutedStatus = "applied"
	StatusSuggested       ExecutedStatus = "suggested"
	StatusPartiallyFailed ExecutedStatus = "partially_failed"

	// StatusSkipped records an explicit no-match decision.
	StatusSkipped ExecutedStatus = "skipped"
)

// ExecutedRule is the durable idempotency record, uniquely keyed by
// (account, thread, message). Its existence means the message has already
// produced a rule-execution outcome; it is finalized once and never
// transitions back.
type ExecutedRule struct {
	ID        int64      `json:"id" db:"id"`
	AccountID uuid.UUID  `json:"account_id" db:"account_id"`
	ThreadID  string     `json:"thread_id" db:"thread_id"`
	MessageID string     `json:"message_id" db:"message_id"`
	RuleID    *uuid.UUID `json:"rule_id,omitempty" db:"rule_id"`
	RuleName  string     `json:"rule_name,omitempty" db:"rule_name"`

	// Sender is denormalized from the message for pattern learning.
	Sender string `json:"sender,omitempty" db:"sender"`

	Status ExecutedStatus `json:"status" db:"status"`

	// Reason carries the no-match reason or the AI justification.
	Reason string `json:"reason,omitempty" db:"reason"`

	Risk      RiskLevel `json:"risk" db:"risk"`
	Automated bool      `json:"automated" db:"automated"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ActionResult is the per-action outcome inside an execution.
type ActionResult struct {
	ActionID  uuid.UUID  `json:"action_id"`
	Type      ActionType `json:"type"`
	Risk      RiskLevel  `json:"risk"`
	Executed  bool       `json:"executed"`
	Suggested bool       `json:"suggested"`
	Error     string     `json:"error,omitempty"`
}

// ExecutionOutcome aggregates the action results of one matched rule.
type ExecutionOutcome struct {
	Status  ExecutedStatus `json:"status"`
	Results []ActionResult `json:"results"`
}

// Failed returns the number of actions that errored.
func (o *ExecutionOutcome) Failed() int {
	n := 0
	for _, r := range o.Results {
		if r.Error != "" {
			n++
		}
	}
	return n
}
