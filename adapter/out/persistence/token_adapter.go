package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// TokenAdapter stores per-account OAuth tokens in the oauth_tokens
// table (account_id PRIMARY KEY). The dashboard writes the initial
// grant; this side reads it and writes back refreshed tokens.
type TokenAdapter struct {
	db *sqlx.DB
}

// NewTokenAdapter creates a new TokenAdapter.
func NewTokenAdapter(db *sqlx.DB) *TokenAdapter {
	return &TokenAdapter{db: db}
}

type tokenRow struct {
	AccountID    uuid.UUID      `db:"account_id"`
	AccessToken  string         `db:"access_token"`
	RefreshToken sql.NullString `db:"refresh_token"`
	TokenType    sql.NullString `db:"token_type"`
	Expiry       sql.NullTime   `db:"expiry"`
}

// GetToken loads the stored OAuth token for an account.
func (a *TokenAdapter) GetToken(ctx context.Context, accountID uuid.UUID) (*oauth2.Token, error) {
	query := `
		SELECT account_id, access_token, refresh_token, token_type, expiry
		FROM oauth_tokens
		WHERE account_id = $1`

	var row tokenRow
	if err := a.db.GetContext(ctx, &row, query, accountID); err != nil {
		if isNoRows(err) {
			return nil, apperr.NotFound("oauth token")
		}
		return nil, apperr.DatabaseError(err)
	}

	token := &oauth2.Token{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken.String,
		TokenType:    row.TokenType.String,
	}
	if row.Expiry.Valid {
		token.Expiry = row.Expiry.Time
	}
	return token, nil
}

// SaveToken upserts the token for an account. The refresh token is
// kept when the provider omits it from a refresh response.
func (a *TokenAdapter) SaveToken(ctx context.Context, accountID uuid.UUID, token *oauth2.Token) error {
	query := `
		INSERT INTO oauth_tokens (account_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), oauth_tokens.refresh_token),
			token_type = EXCLUDED.token_type,
			expiry = EXCLUDED.expiry,
			updated_at = EXCLUDED.updated_at`

	var expiry any
	if !token.Expiry.IsZero() {
		expiry = token.Expiry
	}

	_, err := a.db.ExecContext(ctx, query,
		accountID, token.AccessToken, token.RefreshToken, token.TokenType, expiry, time.Now().UTC())
	if err != nil {
		return apperr.DatabaseError(err)
	}
	return nil
}
