package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/logger"
)

// ============================================
// Idempotency Guard
// ============================================
//
// Two layers with different lifetimes. The short-lived cache lock
// collapses the duplicate bursts push providers send within seconds of
// each other. The durable decision-record check catches everything the
// lock cannot: redeliveries after the TTL, replays after a crash,
// deliveries to another worker. The durable check fails CLOSED: if it
// cannot be answered the event goes back to the queue rather than risk
// a double execution.

// DefaultLockTTL bounds the processing lock. Long enough for a slow
// provider round trip, short enough that a crashed worker frees the
// message quickly.
const DefaultLockTTL = 2 * time.Minute

// Guard provides both idempotency layers to the orchestrator.
type Guard struct {
	cache    out.Cache
	executed out.ExecutedRuleRepository
	ttl      time.Duration
	log      *logger.Logger
}

// NewGuard builds a Guard. ttl <= 0 selects DefaultLockTTL.
func NewGuard(cache out.Cache, executed out.ExecutedRuleRepository, ttl time.Duration, log *logger.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log == nil {
		log = logger.Default()
	}
	return &Guard{cache: cache, executed: executed, ttl: ttl, log: log}
}

func lockKey(accountID uuid.UUID, messageID string) string {
	return fmt.Sprintf("lock:process:%s:%s", accountID, messageID)
}

// Acquire takes the cache processing lock for the message. false means
// another worker holds it and this delivery should be dropped. A cache
// error is returned as an error, not folded into false: without the
// lock we cannot rule out a concurrent processor, so the event must go
// back to the queue instead of being acked.
func (g *Guard) Acquire(ctx context.Context, accountID uuid.UUID, messageID string) (bool, error) {
	ok, err := g.cache.SetNX(ctx, lockKey(accountID, messageID), "1", g.ttl)
	if err != nil {
		g.log.WithError(err).Warn("processing lock unavailable: message=%s", messageID)
		return false, err
	}
	return ok, nil
}

// Release frees the lock early. Best-effort; the TTL is the safety net.
func (g *Guard) Release(accountID uuid.UUID, messageID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.cache.Delete(ctx, lockKey(accountID, messageID)); err != nil {
		g.log.WithError(err).Debug("failed to release processing lock: message=%s", messageID)
	}
}

// AlreadyDecided consults the durable decision record. Errors propagate
// so the caller retries later instead of guessing.
func (g *Guard) AlreadyDecided(ctx context.Context, accountID uuid.UUID, threadID, messageID string) (bool, error) {
	return g.executed.Exists(ctx, accountID, threadID, messageID)
}
