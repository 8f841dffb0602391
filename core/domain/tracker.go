package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrackerType is the reply obligation a tracker row records.
type TrackerType string

const (
	// TrackNeedsReply: someone is waiting on the mailbox owner.
	TrackNeedsReply TrackerType = "needs_reply"
	// TrackAwaiting: the owner is waiting on a reply.
	TrackAwaiting TrackerType = "awaiting"
	// TrackNeedsAction: the thread requires a non-reply action.
	TrackNeedsAction TrackerType = "needs_action"
)

// ThreadTracker is one reply-state row. Multiple trackers may exist per
// thread across time; only unresolved, most-recent-per-thread rows are
// active. Resolution is monotonic: resolved flips false → true exactly once.
type ThreadTracker struct {
	ID         int64       `json:"id" db:"id"`
	AccountID  uuid.UUID   `json:"account_id" db:"account_id"`
	ThreadID   string      `json:"thread_id" db:"thread_id"`
	MessageID  string      `json:"message_id" db:"message_id"`
	Type       TrackerType `json:"type" db:"type"`
	SentAt     time.Time   `json:"sent_at" db:"sent_at"`
	Resolved   bool        `json:"resolved" db:"resolved"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// TrackerBucket selects an age window for tracker views.
type TrackerBucket string

const (
	BucketAll    TrackerBucket = "all"
	Bucket3Days  TrackerBucket = "3d"
	BucketWeek   TrackerBucket = "1w"
	Bucket2Weeks TrackerBucket = "2w"
	BucketMonth  TrackerBucket = "1m"
)

// CutoffBefore returns the upper bound on SentAt for the bucket, or the
// zero time for BucketAll.
func (b TrackerBucket) CutoffBefore(now time.Time) time.Time {
	switch b {
	case Bucket3Days:
		return now.AddDate(0, 0, -3)
	case BucketWeek:
		return now.AddDate(0, 0, -7)
	case Bucket2Weeks:
		return now.AddDate(0, 0, -14)
	case BucketMonth:
		return now.AddDate(0, -1, 0)
	default:
		return time.Time{}
	}
}

// DigestItem is one queued rule outcome awaiting the next digest send. Items
// are consumed and deleted once the digest goes out.
type DigestItem struct {
	ID        int64     `json:"id" db:"id"`
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	MessageID string    `json:"message_id" db:"message_id"`
	RuleName  string    `json:"rule_name" db:"rule_name"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SenderCategory is the learned or user-assigned category of a sender.
type SenderCategory struct {
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	Sender    string    `json:"sender" db:"sender"`
	Category  string    `json:"category" db:"category"`
	Source    string    `json:"source" db:"source"` // "user", "ai"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SenderPattern is a learned sender → rule association used to short-circuit
// AI criteria evaluation for recurring one-way senders. Stale patterns are
// re-validated in the background.
type SenderPattern struct {
	AccountID   uuid.UUID `json:"account_id" db:"account_id"`
	Sender      string    `json:"sender" db:"sender"`
	RuleID      uuid.UUID `json:"rule_id" db:"rule_id"`
	ThreadCount int       `json:"thread_count" db:"thread_count"`
	AnalyzedAt  time.Time `json:"analyzed_at" db:"analyzed_at"`
}

// MinPatternThreads is the number of consistently routed one-way threads
// required before a sender pattern short-circuits the AI evaluator.
const MinPatternThreads = 3

// PatternMaxAge bounds how long a learned pattern is trusted before
// re-validation.
const PatternMaxAge = 30 * 24 * time.Hour

// Stale reports whether the pattern needs re-validation.
func (p *SenderPattern) Stale(now time.Time) bool {
	return now.Sub(p.AnalyzedAt) > PatternMaxAge
}

// Trusted reports whether the pattern may short-circuit AI evaluation.
func (p *SenderPattern) Trusted(now time.Time) bool {
	return p.ThreadCount >= MinPatternThreads && !p.Stale(now)
}
