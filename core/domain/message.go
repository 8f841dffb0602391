// Package domain contains the core entities of the mail automation engine.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies the mail provider backing an account.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// InboundEvent is created once per provider webhook notification and
// consumed exactly once by the pipeline orchestrator.
type InboundEvent struct {
	AccountID  uuid.UUID `json:"account_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	FolderHint string    `json:"folder_hint,omitempty"`
}

// Address is a parsed mail address.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String renders the address in "Name <email>" header form.
func (a Address) String() string {
	if a.Name != "" {
		return a.Name + " <" + a.Email + ">"
	}
	return a.Email
}

// Domain returns the part after '@', lowercased.
func (a Address) Domain() string {
	parts := strings.Split(a.Email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// Attachment describes a message attachment. Content is never fetched by
// the pipeline; only metadata is carried.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Message is the normalized mail representation. It is owned by the
// provider adapter and read-only to every pipeline stage.
type Message struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	From        Address      `json:"from"`
	To          []Address    `json:"to"`
	CC          []Address    `json:"cc,omitempty"`
	ReplyTo     string       `json:"reply_to,omitempty"`
	Subject     string       `json:"subject"`
	Snippet     string       `json:"snippet"`
	TextPlain   string       `json:"text_plain,omitempty"`
	TextHTML    string       `json:"text_html,omitempty"`
	Date        time.Time    `json:"date"`
	Labels      []string     `json:"labels,omitempty"`
	Folder      string       `json:"folder,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	// Threading headers, used for reply composition.
	RFCMessageID string `json:"rfc_message_id,omitempty"`
	References   string `json:"references,omitempty"`
}

// Well-known labels/folders shared by both provider adapters. Outlook
// folder names are normalized to these by the adapter.
const (
	LabelInbox  = "INBOX"
	LabelSent   = "SENT"
	LabelDraft  = "DRAFT"
	LabelSpam   = "SPAM"
	LabelUnread = "UNREAD"
)

// HasLabel reports whether the message carries the given label or folder.
func (m *Message) HasLabel(label string) bool {
	if m.Folder == label {
		return true
	}
	for _, l := range m.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsOutbound reports whether the message lives in the sent view, i.e. was
// written by the mailbox owner.
func (m *Message) IsOutbound() bool {
	return m.HasLabel(LabelSent)
}

// IsDraft reports whether the message is an unsent draft.
func (m *Message) IsDraft() bool {
	return m.HasLabel(LabelDraft)
}

// BestBody returns the plain-text body if present, falling back to HTML
// and finally the snippet.
func (m *Message) BestBody() string {
	if m.TextPlain != "" {
		return m.TextPlain
	}
	if m.TextHTML != "" {
		return m.TextHTML
	}
	return m.Snippet
}

// RecipientList renders To recipients as a comma-separated address list.
func (m *Message) RecipientList() string {
	emails := make([]string, 0, len(m.To))
	for _, to := range m.To {
		emails = append(emails, to.Email)
	}
	return strings.Join(emails, ", ")
}

// AddressedTo reports whether any recipient matches the given address
// (case-insensitive).
func (m *Message) AddressedTo(email string) bool {
	email = strings.ToLower(email)
	for _, to := range m.To {
		if strings.ToLower(to.Email) == email {
			return true
		}
	}
	for _, cc := range m.CC {
		if strings.ToLower(cc.Email) == email {
			return true
		}
	}
	return false
}

// ColdEmailPolicy controls what the cold-email blocker does on a positive
// classification.
type ColdEmailPolicy string

const (
	ColdEmailOff              ColdEmailPolicy = "off"
	ColdEmailLabel            ColdEmailPolicy = "label"
	ColdEmailArchiveLabel     ColdEmailPolicy = "archive_label"
	ColdEmailArchiveLabelRead ColdEmailPolicy = "archive_label_read"
)

// Enabled reports whether cold-email blocking is active at all.
func (p ColdEmailPolicy) Enabled() bool {
	return p != "" && p != ColdEmailOff
}

// Account holds the per-mailbox settings the pipeline reads. Accounts are
// mutated by user settings outside this core.
type Account struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Provider Provider  `json:"provider"`

	AutomationEnabled     bool            `json:"automation_enabled"`
	AIAccess              bool            `json:"ai_access"`
	ColdEmailPolicy       ColdEmailPolicy `json:"cold_email_policy"`
	AutoCategorizeSenders bool            `json:"auto_categorize_senders"`
	MultiRuleMatch        bool            `json:"multi_rule_match"`

	// AutonomyCeiling is the highest action risk the account allows to run
	// autonomously. Higher-risk actions degrade to pending suggestions.
	AutonomyCeiling RiskLevel `json:"autonomy_ceiling"`

	// About is the persona/context text included in AI evaluations.
	About string `json:"about,omitempty"`

	// AssistantAlias is the reserved assistant mailbox address; messages
	// addressed to it bypass the pipeline.
	AssistantAlias string `json:"assistant_alias,omitempty"`

	// Push subscription bookkeeping, maintained by the watch renewal job.
	WatchSubscriptionID string    `json:"watch_subscription_id,omitempty"`
	WatchExpiration     time.Time `json:"watch_expiration,omitempty"`

	// LastHistoryID is the mailbox history baseline for providers that
	// notify with history markers instead of message IDs.
	LastHistoryID uint64 `json:"last_history_id,omitempty"`
}
