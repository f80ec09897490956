package repositories

import (
	"context"
	"database/sql"

	"seatkeeper/internal/platform/models"
)

type InvitationRepository struct {
	db *sql.DB
}

func NewInvitationRepository(db *sql.DB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

func (r *InvitationRepository) CreateTx(ctx context.Context, tx *sql.Tx, inv *models.Invitation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invitations (id, team_id, email, role, invited_by, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inv.ID, inv.TeamID, inv.Email, inv.Role, inv.InvitedBy, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	return err
}

// GetPendingFor returns the invitation only when it is still pending and
// addressed to email.
func (r *InvitationRepository) GetPendingFor(ctx context.Context, q Querier, id, email string) (*models.Invitation, error) {
	var inv models.Invitation
	err := q.QueryRowContext(ctx, `
		SELECT id, team_id, email, role, invited_by, status, created_at, updated_at
		FROM invitations
		WHERE id = $1 AND email = $2 AND status = $3
	`, id, email, models.InvitationPending).Scan(&inv.ID, &inv.TeamID, &inv.Email, &inv.Role,
		&inv.InvitedBy, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

// ResolveTx moves a pending invitation to a terminal status. It returns
// ErrNotFound when the invitation is no longer pending.
func (r *InvitationRepository) ResolveTx(ctx context.Context, tx *sql.Tx, id, status string, now int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE invitations SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`, status, now, id, models.InvitationPending)
	return affected(res, err)
}

func (r *InvitationRepository) HasPending(ctx context.Context, q Querier, teamID, email string) (bool, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE team_id = $1 AND email = $2 AND status = $3
	`, teamID, email, models.InvitationPending).Scan(&n)
	return n > 0, err
}

// ListPendingForEmail returns the invitations waiting on email, newest first,
// with the team name and the inviter's email.
func (r *InvitationRepository) ListPendingForEmail(ctx context.Context, email string) ([]*models.InvitationDetails, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.team_id, t.name, u.email, i.role, i.created_at
		FROM invitations i
		JOIN teams t ON t.id = i.team_id
		JOIN users u ON u.id = i.invited_by
		WHERE i.email = $1 AND i.status = $2
		ORDER BY i.created_at DESC, i.id ASC
	`, email, models.InvitationPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.InvitationDetails
	for rows.Next() {
		var d models.InvitationDetails
		if err := rows.Scan(&d.ID, &d.TeamID, &d.TeamName, &d.InvitedBy, &d.Role, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
