package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/core/port/out"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// TrackerAdapter implements out.ThreadTrackerRepository using
// PostgreSQL. The unresolved view relies on a partial index over
// (account_id, thread_id) WHERE NOT resolved.
type TrackerAdapter struct {
	db *sqlx.DB
}

// NewTrackerAdapter creates a new TrackerAdapter.
func NewTrackerAdapter(db *sqlx.DB) *TrackerAdapter {
	return &TrackerAdapter{db: db}
}

// Create inserts a tracker row after resolving older unresolved rows of
// the same type in the thread, all in one transaction, so the view
// never shows two active rows of one type per thread.
func (a *TrackerAdapter) Create(ctx context.Context, t *domain.ThreadTracker) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	defer tx.Rollback()

	supersede := `
		UPDATE thread_trackers
		SET resolved = TRUE, resolved_at = NOW()
		WHERE account_id = $1 AND thread_id = $2 AND type = $3 AND NOT resolved`
	if _, err := tx.ExecContext(ctx, supersede, t.AccountID, t.ThreadID, t.Type); err != nil {
		return apperr.DatabaseError(err)
	}

	insert := `
		INSERT INTO thread_trackers
			(account_id, thread_id, message_id, type, sent_at, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
		RETURNING id`
	err = tx.QueryRowContext(ctx, insert,
		t.AccountID, t.ThreadID, t.MessageID, t.Type, t.SentAt, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return apperr.DatabaseError(err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// ResolveOpen resolves every unresolved row of the given types in the
// thread. The NOT resolved guard keeps the transition monotonic under
// redelivery.
func (a *TrackerAdapter) ResolveOpen(ctx context.Context, accountID uuid.UUID, threadID string, types []domain.TrackerType) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	query := `
		UPDATE thread_trackers
		SET resolved = TRUE, resolved_at = NOW()
		WHERE account_id = $1 AND thread_id = $2
		  AND type = ANY($3) AND NOT resolved`

	res, err := a.db.ExecContext(ctx, query, accountID, threadID, pq.Array(names))
	if err != nil {
		return 0, apperr.DatabaseError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.DatabaseError(err)
	}
	return n, nil
}

type trackerListRow struct {
	ID         int64      `db:"id"`
	AccountID  uuid.UUID  `db:"account_id"`
	ThreadID   string     `db:"thread_id"`
	MessageID  string     `db:"message_id"`
	Type       string     `db:"type"`
	SentAt     time.Time  `db:"sent_at"`
	Resolved   bool       `db:"resolved"`
	ResolvedAt *time.Time `db:"resolved_at"`
	CreatedAt  time.Time  `db:"created_at"`
	Total      int        `db:"total"`
}

// ListUnresolved returns the unresolved view: one row per thread (the
// most recent), newest first, with the pre-pagination total.
func (a *TrackerAdapter) ListUnresolved(ctx context.Context, accountID uuid.UUID, q *out.TrackerQuery) ([]*domain.ThreadTracker, int, error) {
	cutoff := q.Bucket.CutoffBefore(time.Now())

	query := `
		WITH active AS (
			SELECT DISTINCT ON (thread_id) *
			FROM thread_trackers
			WHERE account_id = $1 AND type = $2 AND NOT resolved
			ORDER BY thread_id, sent_at DESC
		)
		SELECT *, COUNT(*) OVER () AS total
		FROM active
		WHERE ($3::timestamptz IS NULL OR sent_at < $3)
		ORDER BY sent_at DESC
		LIMIT $4 OFFSET $5`

	var cutoffArg any
	if !cutoff.IsZero() {
		cutoffArg = cutoff
	}

	var rows []trackerListRow
	if err := a.db.SelectContext(ctx, &rows, query, accountID, q.Type, cutoffArg, q.Limit, q.Offset); err != nil {
		return nil, 0, apperr.DatabaseError(err)
	}

	total := 0
	trackers := make([]*domain.ThreadTracker, len(rows))
	for i, r := range rows {
		total = r.Total
		trackers[i] = &domain.ThreadTracker{
			ID:         r.ID,
			AccountID:  r.AccountID,
			ThreadID:   r.ThreadID,
			MessageID:  r.MessageID,
			Type:       domain.TrackerType(r.Type),
			SentAt:     r.SentAt,
			Resolved:   r.Resolved,
			ResolvedAt: r.ResolvedAt,
			CreatedAt:  r.CreatedAt,
		}
	}
	return trackers, total, nil
}
