package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// DigestAdapter implements out.DigestRepository using PostgreSQL.
type DigestAdapter struct {
	db *sqlx.DB
}

// NewDigestAdapter creates a new DigestAdapter.
func NewDigestAdapter(db *sqlx.DB) *DigestAdapter {
	return &DigestAdapter{db: db}
}

// Add queues one item for the account's next digest.
func (a *DigestAdapter) Add(ctx context.Context, item *domain.DigestItem) error {
	query := `
		INSERT INTO digest_items (account_id, message_id, rule_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := a.db.QueryRowContext(ctx, query,
		item.AccountID, item.MessageID, item.RuleName, item.Content, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// ListPending returns the oldest pending items up to limit.
func (a *DigestAdapter) ListPending(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.DigestItem, error) {
	var items []*domain.DigestItem
	query := `
		SELECT id, account_id, message_id, rule_name, content, created_at
		FROM digest_items
		WHERE account_id = $1
		ORDER BY created_at ASC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &items, query, accountID, limit); err != nil {
		return nil, apperr.DatabaseError(err)
	}
	return items, nil
}

// Delete removes delivered items.
func (a *DigestAdapter) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM digest_items WHERE id = ANY($1)`
	if _, err := a.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// AccountsWithPending lists accounts holding undelivered items.
func (a *DigestAdapter) AccountsWithPending(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := `SELECT DISTINCT account_id FROM digest_items`
	if err := a.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, apperr.DatabaseError(err)
	}
	return ids, nil
}
