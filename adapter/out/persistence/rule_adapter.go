package persistence

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elie222/inbox-zero-sub011/core/domain"
	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// RuleAdapter implements out.RuleRepository using PostgreSQL. The
// condition and actions columns are JSONB documents shaped like the
// domain types, so decoding is a straight unmarshal.
type RuleAdapter struct {
	db *sqlx.DB
}

// NewRuleAdapter creates a new RuleAdapter.
func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

type ruleRow struct {
	ID        uuid.UUID `db:"id"`
	AccountID uuid.UUID `db:"account_id"`
	Name      string    `db:"name"`
	Enabled   bool      `db:"enabled"`
	Automate  bool      `db:"automate"`
	Condition []byte    `db:"condition"`
	Actions   []byte    `db:"actions"`
	Position  int       `db:"position"`
}

func (r *ruleRow) toEntity() (*domain.Rule, error) {
	rule := &domain.Rule{
		ID:        r.ID,
		AccountID: r.AccountID,
		Name:      r.Name,
		Enabled:   r.Enabled,
		Automate:  r.Automate,
		Order:     r.Position,
	}
	if err := json.Unmarshal(r.Condition, &rule.Condition); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternalError, "malformed rule condition", 500)
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &rule.Actions); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternalError, "malformed rule actions", 500)
		}
	}
	return rule, nil
}

const ruleColumns = `id, account_id, name, enabled, automate, condition, actions, position`

// ListEnabled returns the account's enabled rules in table order.
func (a *RuleAdapter) ListEnabled(ctx context.Context, accountID uuid.UUID) ([]*domain.Rule, error) {
	var rows []ruleRow
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE account_id = $1 AND enabled
		ORDER BY position ASC`

	if err := a.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, apperr.DatabaseError(err)
	}

	rules := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Get retrieves a rule by ID.
func (a *RuleAdapter) Get(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	var row ruleRow
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`

	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("rule")
		}
		return nil, apperr.DatabaseError(err)
	}
	return row.toEntity()
}
