// Package tracker maintains the per-thread reply-state rows that back
// the "needs reply" / "awaiting reply" views.
package tracker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// Service owns the tracker state machine. Transitions are driven by
// message direction: an inbound message resolves the owner's open
// awaiting rows, an outbound message resolves the thread's open
// needs-reply and needs-action rows. Resolution is monotonic; repeated
// deliveries of the same event re-resolve already-resolved rows as
// no-ops.
type Service struct {
	repo out.ThreadTrackerRepository
	log  *logger.Logger
	now  func() time.Time
}

// New builds a tracker Service.
func New(repo out.ThreadTrackerRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{repo: repo, log: log, now: time.Now}
}

// Track records a new obligation on the thread. The repository
// supersedes older unresolved rows of the same type, so the
// distinct-per-thread view invariant holds without a read first.
func (s *Service) Track(ctx context.Context, accountID uuid.UUID, threadID, messageID string, typ domain.TrackerType, sentAt time.Time) error {
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	return s.repo.Create(ctx, &domain.ThreadTracker{
		AccountID: accountID,
		ThreadID:  threadID,
		MessageID: messageID,
		Type:      typ,
		SentAt:    sentAt,
		CreatedAt: s.now(),
	})
}

// OnOutbound applies the outbound transition: the owner wrote in the
// thread, so nothing needs their reply or action any longer. When
// awaiting is true a fresh awaiting row is created for the sent
// message.
func (s *Service) OnOutbound(ctx context.Context, accountID uuid.UUID, threadID, messageID string, sentAt time.Time, awaiting bool) error {
	n, err := s.repo.ResolveOpen(ctx, accountID, threadID, []domain.TrackerType{
		domain.TrackNeedsReply,
		domain.TrackNeedsAction,
	})
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Debug("outbound message resolved %d tracker(s): thread=%s", n, threadID)
	}
	if !awaiting {
		return nil
	}
	return s.Track(ctx, accountID, threadID, messageID, domain.TrackAwaiting, sentAt)
}

// OnInbound applies the inbound transition: the other side wrote back,
// so the owner is no longer awaiting a reply on this thread.
func (s *Service) OnInbound(ctx context.Context, accountID uuid.UUID, threadID string) error {
	n, err := s.repo.ResolveOpen(ctx, accountID, threadID, []domain.TrackerType{domain.TrackAwaiting})
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Debug("inbound message resolved %d awaiting tracker(s): thread=%s", n, threadID)
	}
	return nil
}

// ListUnresolved returns the bucketed unresolved view plus the total
// row count for pagination.
func (s *Service) ListUnresolved(ctx context.Context, accountID uuid.UUID, q *out.TrackerQuery) ([]*domain.ThreadTracker, int, error) {
	if q == nil {
		q = &out.TrackerQuery{}
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Bucket == "" {
		q.Bucket = domain.BucketAll
	}
	return s.repo.ListUnresolved(ctx, accountID, q)
}
