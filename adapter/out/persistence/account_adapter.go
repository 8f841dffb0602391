package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// AccountAdapter implements out.AccountRepository using PostgreSQL.
// Accounts are written by the dashboard; this side only reads them,
// except for watch-subscription bookkeeping.
type AccountAdapter struct {
	db *sqlx.DB
}

// NewAccountAdapter creates a new AccountAdapter.
func NewAccountAdapter(db *sqlx.DB) *AccountAdapter {
	return &AccountAdapter{db: db}
}

type accountRow struct {
	ID                    uuid.UUID      `db:"id"`
	Email                 string         `db:"email"`
	Provider              string         `db:"provider"`
	AutomationEnabled     bool           `db:"automation_enabled"`
	AIAccess              bool           `db:"ai_access"`
	ColdEmailPolicy       string         `db:"cold_email_policy"`
	AutoCategorizeSenders bool           `db:"auto_categorize_senders"`
	MultiRuleMatch        bool           `db:"multi_rule_match"`
	AutonomyCeiling       string         `db:"autonomy_ceiling"`
	About                 sql.NullString `db:"about"`
	AssistantAlias        sql.NullString `db:"assistant_alias"`
	WatchSubscriptionID   sql.NullString `db:"watch_subscription_id"`
	WatchExpiration       sql.NullTime   `db:"watch_expiration"`
	LastHistoryID         sql.NullInt64  `db:"last_history_id"`
}

func (r *accountRow) toEntity() *domain.Account {
	return &domain.Account{
		ID:                    r.ID,
		Email:                 r.Email,
		Provider:              domain.Provider(r.Provider),
		AutomationEnabled:     r.AutomationEnabled,
		AIAccess:              r.AIAccess,
		ColdEmailPolicy:       domain.ColdEmailPolicy(r.ColdEmailPolicy),
		AutoCategorizeSenders: r.AutoCategorizeSenders,
		MultiRuleMatch:        r.MultiRuleMatch,
		AutonomyCeiling:       domain.ParseRiskLevel(r.AutonomyCeiling),
		About:                 r.About.String,
		AssistantAlias:        r.AssistantAlias.String,
		WatchSubscriptionID:   r.WatchSubscriptionID.String,
		WatchExpiration:       r.WatchExpiration.Time,
		LastHistoryID:         uint64(r.LastHistoryID.Int64),
	}
}

const accountColumns = `
	id, email, provider, automation_enabled, ai_access, cold_email_policy,
	auto_categorize_senders, multi_rule_match, autonomy_ceiling, about,
	assistant_alias, watch_subscription_id, watch_expiration, last_history_id`

// Get retrieves an account by ID.
func (a *AccountAdapter) Get(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var row accountRow
	query := `SELECT` + accountColumns + ` FROM accounts WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.DatabaseError(err)
	}
	return row.toEntity(), nil
}

// GetByEmail retrieves an account by mailbox address.
func (a *AccountAdapter) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	query := `SELECT` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	if err := a.db.GetContext(ctx, &row, query, email); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.DatabaseError(err)
	}
	return row.toEntity(), nil
}

// GetByWatchSubscription retrieves the account behind a push
// subscription.
func (a *AccountAdapter) GetByWatchSubscription(ctx context.Context, subscriptionID string) (*domain.Account, error) {
	var row accountRow
	query := `SELECT` + accountColumns + ` FROM accounts WHERE watch_subscription_id = $1`

	if err := a.db.GetContext(ctx, &row, query, subscriptionID); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("account")
		}
		return nil, apperr.DatabaseError(err)
	}
	return row.toEntity(), nil
}

// ListWatchExpiring returns accounts whose push subscription expires
// before the deadline, including accounts that never armed one.
func (a *AccountAdapter) ListWatchExpiring(ctx context.Context, deadline time.Time) ([]*domain.Account, error) {
	var rows []accountRow
	query := `SELECT` + accountColumns + `
		FROM accounts
		WHERE watch_expiration IS NULL OR watch_expiration < $1
		ORDER BY watch_expiration ASC NULLS FIRST`

	if err := a.db.SelectContext(ctx, &rows, query, deadline); err != nil {
		return nil, apperr.DatabaseError(err)
	}

	accounts := make([]*domain.Account, len(rows))
	for i := range rows {
		accounts[i] = rows[i].toEntity()
	}
	return accounts, nil
}

// UpdateWatch records a renewed push subscription.
func (a *AccountAdapter) UpdateWatch(ctx context.Context, accountID uuid.UUID, subscriptionID string, expiration time.Time) error {
	query := `
		UPDATE accounts
		SET watch_subscription_id = $2, watch_expiration = $3
		WHERE id = $1`

	res, err := a.db.ExecContext(ctx, query, accountID, subscriptionID, expiration)
	if err != nil {
		return apperr.DatabaseError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("account")
	}
	return nil
}

// UpdateHistoryID advances the history baseline. The guard keeps the
// baseline monotonic under out-of-order webhook deliveries.
func (a *AccountAdapter) UpdateHistoryID(ctx context.Context, accountID uuid.UUID, historyID uint64) error {
	query := `
		UPDATE accounts
		SET last_history_id = $2
		WHERE id = $1 AND (last_history_id IS NULL OR last_history_id < $2)`

	if _, err := a.db.ExecContext(ctx, query, accountID, int64(historyID)); err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}
