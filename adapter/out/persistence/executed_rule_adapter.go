package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// ExecutedRuleAdapter implements out.ExecutedRuleRepository using
// PostgreSQL. The UNIQUE (account_id, thread_id, message_id) constraint
// on executed_rules is load-bearing: Create surfaces its violation as
// apperr.Duplicate, which is how concurrent duplicate deliveries lose
// the race.
type ExecutedRuleAdapter struct {
	db *sqlx.DB
}

// NewExecutedRuleAdapter creates a new ExecutedRuleAdapter.
func NewExecutedRuleAdapter(db *sqlx.DB) *ExecutedRuleAdapter {
	return &ExecutedRuleAdapter{db: db}
}

// Create inserts the decision record and backfills its generated ID.
func (a *ExecutedRuleAdapter) Create(ctx context.Context, rec *domain.ExecutedRule) error {
	query := `
		INSERT INTO executed_rules
			(account_id, thread_id, message_id, rule_id, rule_name, sender,
			 status, reason, risk, automated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := a.db.QueryRowContext(ctx, query,
		rec.AccountID, rec.ThreadID, rec.MessageID, rec.RuleID, rec.RuleName,
		rec.Sender, rec.Status, rec.Reason, rec.Risk.String(), rec.Automated,
		rec.CreatedAt,
	).Scan(&rec.ID)
	return mapWrite(err, "executed rule")
}

// Finalize moves an 'applying' record to its terminal status. The
// status guard in the WHERE clause makes repeated finalization a no-op.
func (a *ExecutedRuleAdapter) Finalize(ctx context.Context, id int64, status domain.ExecutedStatus, reason string) error {
	query := `
		UPDATE executed_rules
		SET status = $2, reason = $3
		WHERE id = $1 AND status = $4`

	_, err := a.db.ExecContext(ctx, query, id, status, reason, domain.StatusApplying)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}

// Exists reports whether a decision record holds the triple.
func (a *ExecutedRuleAdapter) Exists(ctx context.Context, accountID uuid.UUID, threadID, messageID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM executed_rules
			WHERE account_id = $1 AND thread_id = $2 AND message_id = $3
		)`

	if err := a.db.GetContext(ctx, &exists, query, accountID, threadID, messageID); err != nil {
		return false, apperr.DatabaseError(err)
	}
	return exists, nil
}

// CountByRuleAndSender groups the sender's applied decisions by rule.
// Skipped and suggested records do not count toward pattern learning.
func (a *ExecutedRuleAdapter) CountByRuleAndSender(ctx context.Context, accountID uuid.UUID, sender string) (map[uuid.UUID]int, error) {
	query := `
		SELECT rule_id, COUNT(DISTINCT thread_id) AS threads
		FROM executed_rules
		WHERE account_id = $1 AND sender = $2
		  AND rule_id IS NOT NULL AND status = $3
		GROUP BY rule_id`

	rows, err := a.db.QueryxContext(ctx, query, accountID, sender, domain.StatusApplied)
	if err != nil {
		return nil, apperr.DatabaseError(err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var ruleID uuid.UUID
		var n int
		if err := rows.Scan(&ruleID, &n); err != nil {
			return nil, apperr.DatabaseError(err)
		}
		counts[ruleID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DatabaseError(err)
	}
	return counts, nil
}
