// Package out defines outbound ports (driven ports) for the engine.
package out

import (
	"context"
	"time"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook)
// =============================================================================

// Label is a provider label or folder.
type Label struct {
	ID   string
	Name string
}

// OutgoingMessage is a message to compose via the provider. ThreadID and
// InReplyTo are set for replies so the provider threads correctly.
type OutgoingMessage struct {
	To      []domain.Address
	CC      []domain.Address
	BCC     []domain.Address
	Subject string
	Text    string
	HTML    string

	ThreadID   string
	InReplyTo  string
	References string
}

// SendResult identifies a sent or drafted message.
type SendResult struct {
	MessageID string
	ThreadID  string
	DraftID   string
}

// WatchResult describes an armed push-notification subscription.
// HistoryID is the mailbox history baseline at arm time; providers
// without mailbox history leave it zero.
type WatchResult struct {
	SubscriptionID string
	Expiration     time.Time
	HistoryID      uint64
}

// HistoryRef points at a message added to the mailbox since a history
// marker.
type HistoryRef struct {
	MessageID string
	ThreadID  string
}

// PreviousCommsQuery asks whether the mailbox has exchanged mail with a
// sender (or its domain) before the given message.
type PreviousCommsQuery struct {
	Sender        string
	Before        time.Time
	ExcludeThread string
}

// EmailProviderPort is the uniform interface over Gmail and Outlook. One
// implementation is selected per account at setup time. All methods honor
// context cancellation; not-found conditions surface as apperr.NotFound.
type EmailProviderPort interface {
	ProviderType() domain.Provider

	// Reading
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)
	GetThreadMessages(ctx context.Context, threadID string) ([]*domain.Message, error)
	GetMessagesBatch(ctx context.Context, messageIDs []string) ([]*domain.Message, error)

	// Labels and folders
	GetOrCreateLabel(ctx context.Context, name string) (*Label, error)
	DeleteLabel(ctx context.Context, labelID string) error
	LabelMessage(ctx context.Context, messageID, labelID string) error
	RemoveLabel(ctx context.Context, messageID, labelID string) error

	// State changes
	Archive(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, messageID string) error
	MarkSpam(ctx context.Context, messageID string) error

	// Composition
	SendEmail(ctx context.Context, msg *OutgoingMessage) (*SendResult, error)
	DraftEmail(ctx context.Context, msg *OutgoingMessage) (*SendResult, error)

	// Drafts (used by outbound handling to clean superseded AI drafts)
	ListThreadDrafts(ctx context.Context, threadID string) ([]*domain.Message, error)
	DeleteDraft(ctx context.Context, draftID string) error

	// History
	HasPreviousCommunications(ctx context.Context, q *PreviousCommsQuery) (bool, error)
	// ListHistory returns messages added since the history marker.
	// Providers whose notifications carry message IDs directly return
	// apperr.InvalidInput.
	ListHistory(ctx context.Context, sinceHistoryID uint64) ([]*HistoryRef, error)

	// Push notifications
	WatchEmails(ctx context.Context) (*WatchResult, error)
	UnwatchEmails(ctx context.Context) error
}

// ProviderFactory resolves the provider adapter for an account.
type ProviderFactory interface {
	ForAccount(ctx context.Context, account *domain.Account) (EmailProviderPort, error)
}
