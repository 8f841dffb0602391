package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// AccountRepository resolves accounts. Accounts are owned by the dashboard;
// only reads happen here.
type AccountRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	// GetByEmail resolves the account owning a mailbox address. Used by
	// webhook ingress, where notifications identify the mailbox by email.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// GetByWatchSubscription resolves the account behind a push
	// subscription ID.
	GetByWatchSubscription(ctx context.Context, subscriptionID string) (*domain.Account, error)
	// ListWatchExpiring returns accounts whose push subscription expires
	// before the deadline.
	ListWatchExpiring(ctx context.Context, deadline time.Time) ([]*domain.Account, error)
	// UpdateWatch records a renewed push subscription.
	UpdateWatch(ctx context.Context, accountID uuid.UUID, subscriptionID string, expiration time.Time) error
	// UpdateHistoryID advances the mailbox history baseline used to diff
	// push notifications into concrete message events.
	UpdateHistoryID(ctx context.Context, accountID uuid.UUID, historyID uint64) error
}

// RuleRepository reads the account's rule table.
type RuleRepository interface {
	// ListEnabled returns enabled rules in table order.
	ListEnabled(ctx context.Context, accountID uuid.UUID) ([]*domain.Rule, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
}

// ExecutedRuleRepository persists the durable idempotency records. Create
// must surface a unique-constraint violation on (account_id, thread_id,
// message_id) as apperr.Duplicate: that constraint is the correctness
// backstop under concurrent duplicate deliveries.
type ExecutedRuleRepository interface {
	Create(ctx context.Context, rec *domain.ExecutedRule) error
	// Finalize moves an 'applying' record to its terminal status exactly
	// once; finalizing an already-final record is a no-op.
	Finalize(ctx context.Context, id int64, status domain.ExecutedStatus, reason string) error
	Exists(ctx context.Context, accountID uuid.UUID, threadID, messageID string) (bool, error)
	// CountByRuleAndSender supports pattern learning: executed rules for a
	// sender grouped by rule.
	CountByRuleAndSender(ctx context.Context, accountID uuid.UUID, sender string) (map[uuid.UUID]int, error)
}

// TrackerQuery filters the unresolved tracker view.
type TrackerQuery struct {
	Type   domain.TrackerType
	Bucket domain.TrackerBucket
	Limit  int
	Offset int
}

// ThreadTrackerRepository owns the per-thread reply-state rows.
type ThreadTrackerRepository interface {
	// Create inserts a tracker row, superseding (resolving) older
	// unresolved rows of the same type in the thread so the
	// distinct-per-thread invariant holds at write time.
	Create(ctx context.Context, t *domain.ThreadTracker) error
	// ResolveOpen resolves all unresolved rows of the given types in a
	// thread. Resolution is monotonic and idempotent; the count of rows
	// actually flipped is returned.
	ResolveOpen(ctx context.Context, accountID uuid.UUID, threadID string, types []domain.TrackerType) (int64, error)
	// ListUnresolved returns the unresolved view: distinct per thread,
	// most recent row wins, newest first.
	ListUnresolved(ctx context.Context, accountID uuid.UUID, q *TrackerQuery) ([]*domain.ThreadTracker, int, error)
}

// SenderRepository holds per-sender learning and blocking state.
type SenderRepository interface {
	IsUnsubscribed(ctx context.Context, accountID uuid.UUID, sender string) (bool, error)

	GetCategory(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderCategory, error)
	SetCategory(ctx context.Context, c *domain.SenderCategory) error

	GetPattern(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderPattern, error)
	UpsertPattern(ctx context.Context, p *domain.SenderPattern) error

	// MarkCold records a positive cold-email classification so future
	// messages from the sender skip the AI call.
	MarkCold(ctx context.Context, accountID uuid.UUID, sender string) error
	IsCold(ctx context.Context, accountID uuid.UUID, sender string) (bool, error)
}

// GroupRepository answers sender-group membership for group conditions.
type GroupRepository interface {
	// IsMember reports whether the sender address or its domain belongs to
	// the group.
	IsMember(ctx context.Context, groupID uuid.UUID, senderEmail, senderDomain string) (bool, error)
}

// DigestRepository queues rule outcomes for periodic batched delivery.
type DigestRepository interface {
	Add(ctx context.Context, item *domain.DigestItem) error
	ListPending(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.DigestItem, error)
	Delete(ctx context.Context, ids []int64) error
	// AccountsWithPending lists accounts holding undelivered items.
	AccountsWithPending(ctx context.Context) ([]uuid.UUID, error)
}
