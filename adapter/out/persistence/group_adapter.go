package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// GroupAdapter implements out.GroupRepository using PostgreSQL. Group
// members are stored as either a full address or a bare domain; a
// domain entry matches every sender at that domain.
type GroupAdapter struct {
	db *sqlx.DB
}

// NewGroupAdapter creates a new GroupAdapter.
func NewGroupAdapter(db *sqlx.DB) *GroupAdapter {
	return &GroupAdapter{db: db}
}

// IsMember reports whether the sender address or its domain belongs to
// the group.
func (a *GroupAdapter) IsMember(ctx context.Context, groupID uuid.UUID, senderEmail, senderDomain string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM group_members
			WHERE group_id = $1 AND value IN (LOWER($2), LOWER($3))
		)`
	if err := a.db.GetContext(ctx, &exists, query, groupID, senderEmail, senderDomain); err != nil {
		return false, apperr.DatabaseError(err)
	}
	return exists, nil
}
