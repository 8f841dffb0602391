package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// SenderAdapter implements out.SenderRepository using PostgreSQL. It
// spans the per-sender learning tables: unsubscribes, categories,
// patterns and cold-sender verdicts.
type SenderAdapter struct {
	db *sqlx.DB
}

// NewSenderAdapter creates a new SenderAdapter.
func NewSenderAdapter(db *sqlx.DB) *SenderAdapter {
	return &SenderAdapter{db: db}
}

// IsUnsubscribed reports whether the account blocked the sender.
func (a *SenderAdapter) IsUnsubscribed(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM unsubscribed_senders
			WHERE account_id = $1 AND sender = LOWER($2)
		)`
	if err := a.db.GetContext(ctx, &exists, query, accountID, sender); err != nil {
		return false, apperr.DatabaseError(err)
	}
	return exists, nil
}

type senderCategoryRow struct {
	AccountID uuid.UUID `db:"account_id"`
	Sender    string    `db:"sender"`
	Category  string    `db:"category"`
	Source    string    `db:"source"`
	CreatedAt time.Time `db:"created_at"`
}

// GetCategory returns the sender's stored category, or nil when the
// sender is uncategorized.
func (a *SenderAdapter) GetCategory(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderCategory, error) {
	var row senderCategoryRow
	query := `
		SELECT account_id, sender, category, source, created_at
		FROM sender_categories
		WHERE account_id = $1 AND sender = LOWER($2)`

	if err := a.db.GetContext(ctx, &row, query, accountID, sender); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError(err)
	}
	return &domain.SenderCategory{
		AccountID: row.AccountID,
		Sender:    row.Sender,
		Category:  row.Category,
		Source:    row.Source,
		CreatedAt: row.CreatedAt,
	}, nil
}

// SetCategory stores a category. AI assignments never overwrite a
// user-made one; the upsert keeps the existing row when its source is
// "user".
func (a *SenderAdapter) SetCategory(ctx context.Context, c *domain.SenderCategory) error {
	query := `
		INSERT INTO sender_categories (account_id, sender, category, source, created_at)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (account_id, sender) DO UPDATE
		SET category = EXCLUDED.category, source = EXCLUDED.source
		WHERE sender_categories.source <> 'user' OR EXCLUDED.source = 'user'`

	_, err := a.db.ExecContext(ctx, query, c.AccountID, c.Sender, c.Category, c.Source, c.CreatedAt)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

type senderPatternRow struct {
	AccountID   uuid.UUID `db:"account_id"`
	Sender      string    `db:"sender"`
	RuleID      uuid.UUID `db:"rule_id"`
	ThreadCount int       `db:"thread_count"`
	AnalyzedAt  time.Time `db:"analyzed_at"`
}

// GetPattern returns the learned pattern for a sender, or nil.
func (a *SenderAdapter) GetPattern(ctx context.Context, accountID uuid.UUID, sender string) (*domain.SenderPattern, error) {
	var row senderPatternRow
	query := `
		SELECT account_id, sender, rule_id, thread_count, analyzed_at
		FROM sender_patterns
		WHERE account_id = $1 AND sender = LOWER($2)`

	if err := a.db.GetContext(ctx, &row, query, accountID, sender); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, apperr.DatabaseError(err)
	}
	return &domain.SenderPattern{
		AccountID:   row.AccountID,
		Sender:      row.Sender,
		RuleID:      row.RuleID,
		ThreadCount: row.ThreadCount,
		AnalyzedAt:  row.AnalyzedAt,
	}, nil
}

// UpsertPattern stores or refreshes the sender's pattern.
func (a *SenderAdapter) UpsertPattern(ctx context.Context, p *domain.SenderPattern) error {
	query := `
		INSERT INTO sender_patterns (account_id, sender, rule_id, thread_count, analyzed_at)
		VALUES ($1, LOWER($2), $3, $4, $5)
		ON CONFLICT (account_id, sender) DO UPDATE
		SET rule_id = EXCLUDED.rule_id,
		    thread_count = EXCLUDED.thread_count,
		    analyzed_at = EXCLUDED.analyzed_at`

	_, err := a.db.ExecContext(ctx, query, p.AccountID, p.Sender, p.RuleID, p.ThreadCount, p.AnalyzedAt)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// MarkCold stores a positive cold-email verdict. Idempotent.
func (a *SenderAdapter) MarkCold(ctx context.Context, accountID uuid.UUID, sender string) error {
	query := `
		INSERT INTO cold_senders (account_id, sender, created_at)
		VALUES ($1, LOWER($2), NOW())
		ON CONFLICT (account_id, sender) DO NOTHING`

	if _, err := a.db.ExecContext(ctx, query, accountID, sender); err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// IsCold reports whether the sender has a stored cold verdict.
func (a *SenderAdapter) IsCold(ctx context.Context, accountID uuid.UUID, sender string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM cold_senders
			WHERE account_id = $1 AND sender = LOWER($2)
		)`
	if err := a.db.GetContext(ctx, &exists, query, accountID, sender); err != nil {
		return false, apperr.DatabaseError(err)
	}
	return exists, nil
}
