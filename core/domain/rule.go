package domain

import (
	"github.com/google/uuid"
)

// ConditionType tags the rule condition variant.
type ConditionType string

const (
	ConditionStatic   ConditionType = "static"
	ConditionGroup    ConditionType = "group"
	ConditionCategory ConditionType = "category"
	ConditionAI       ConditionType = "ai"
)

// StaticCondition matches message headers against configured values.
// Values are substring matches unless wrapped in quotes, in which case the
// match is exact.
type StaticCondition struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Empty reports whether no field is configured.
func (c StaticCondition) Empty() bool {
	return c.From == "" && c.To == "" && c.Subject == ""
}

// GroupCondition matches when the sender (address or domain) belongs to a
// user-defined sender group such as "Newsletters" or "Receipts".
type GroupCondition struct {
	GroupID uuid.UUID `json:"group_id"`
}

// CategoryCondition matches when the sender has a stored category equal to
// one of the listed names.
type CategoryCondition struct {
	Categories []string `json:"categories"`
}

// AICondition holds natural-language matching instructions evaluated by the
// criteria evaluator.
type AICondition struct {
	Instructions string `json:"instructions"`
}

// Condition is a tagged union; exactly one variant pointer is set,
// identified by Type. The matcher dispatches on the tag.
type Condition struct {
	Type     ConditionType      `json:"type"`
	Static   *StaticCondition   `json:"static,omitempty"`
	Group    *GroupCondition    `json:"group,omitempty"`
	Category *CategoryCondition `json:"category,omitempty"`
	AI       *AICondition       `json:"ai,omitempty"`
}

// ActionType enumerates the side effects a rule can attach.
type ActionType string

const (
	ActionArchive     ActionType = "archive"
	ActionLabel       ActionType = "label"
	ActionDraft       ActionType = "draft"
	ActionReply       ActionType = "reply"
	ActionSend        ActionType = "send"
	ActionForward     ActionType = "forward"
	ActionMarkSpam    ActionType = "mark_spam"
	ActionMarkRead    ActionType = "mark_read"
	ActionTrackThread ActionType = "track_thread"
	ActionDigest      ActionType = "digest"
)

// Sends reports whether the action composes outgoing mail. Only sending
// actions are risk-rated; the rest cannot exfiltrate content and are
// always low risk.
func (t ActionType) Sends() bool {
	switch t {
	case ActionReply, ActionSend, ActionForward, ActionDraft:
		return true
	}
	return false
}

// Action is one side effect attached to a rule. Template fields may contain
// static text or {{variable}} placeholders; the degree of dynamism drives
// the computed risk.
type Action struct {
	ID   uuid.UUID  `json:"id"`
	Type ActionType `json:"type"`

	// Label name for label actions.
	Label string `json:"label,omitempty"`

	// Compose fields for draft/reply/send/forward.
	To      string `json:"to,omitempty"`
	CC      string `json:"cc,omitempty"`
	BCC     string `json:"bcc,omitempty"`
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`

	// TrackType selects the tracker row type for track_thread actions.
	TrackType TrackerType `json:"track_type,omitempty"`
}

// Rule is a user-defined condition → actions mapping. Rules are created and
// edited outside this core and read-only here.
type Rule struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`

	// Automate gates autonomous execution; when false every matched action
	// is surfaced as a pending suggestion.
	Automate bool `json:"automate"`

	Condition Condition `json:"condition"`
	Actions   []Action  `json:"actions"`

	// Order is the rule-table position; first-match-wins follows it.
	Order int `json:"order"`
}

// IsAIMatched reports whether matching this rule requires the AI evaluator.
func (r *Rule) IsAIMatched() bool {
	return r.Condition.Type == ConditionAI
}
