package repositories

import (
	"context"
	"database/sql"

	"seatkeeper/internal/platform/models"
)

type MembershipRepository struct {
	db *sql.DB
}

func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// CreateTx inserts a membership. A duplicate (user, team) pair is rejected by
// the unique index; callers detect it with database.IsUniqueViolation.
func (r *MembershipRepository) CreateTx(ctx context.Context, tx *sql.Tx, m *models.Membership) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO team_members (id, user_id, team_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.UserID, m.TeamID, m.Role, m.CreatedAt)
	return err
}

// AddTx inserts a membership unless the user already belongs to the team.
// It reports whether a row was created.
func (r *MembershipRepository) AddTx(ctx context.Context, tx *sql.Tx, m *models.Membership) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO team_members (id, user_id, team_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, team_id) DO NOTHING
	`, m.ID, m.UserID, m.TeamID, m.Role, m.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get returns the user's membership in a team.
func (r *MembershipRepository) Get(ctx context.Context, q Querier, userID, teamID string) (*models.Membership, error) {
	var m models.Membership
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, team_id, role, created_at
		FROM team_members WHERE user_id = $1 AND team_id = $2
	`, userID, teamID).Scan(&m.ID, &m.UserID, &m.TeamID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// GetByID returns a membership by its id.
func (r *MembershipRepository) GetByID(ctx context.Context, q Querier, id string) (*models.Membership, error) {
	var m models.Membership
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, team_id, role, created_at
		FROM team_members WHERE id = $1
	`, id).Scan(&m.ID, &m.UserID, &m.TeamID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// RemoveTx deletes a membership of the team unless it is the team's last
// owner. It reports whether a row was deleted.
func (r *MembershipRepository) RemoveTx(ctx context.Context, tx *sql.Tx, id, teamID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM team_members
		WHERE id = $1 AND team_id = $2
			AND (role <> 'owner' OR (
				SELECT COUNT(*) FROM team_members WHERE team_id = $2 AND role = 'owner'
			) > 1)
	`, id, teamID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// First returns the user's earliest membership, ties broken by id.
func (r *MembershipRepository) First(ctx context.Context, userID string) (*models.Membership, error) {
	var m models.Membership
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, team_id, role, created_at
		FROM team_members WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID).Scan(&m.ID, &m.UserID, &m.TeamID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListTeams returns a summary of every team the user belongs to, in
// membership order.
func (r *MembershipRepository) ListTeams(ctx context.Context, userID string) ([]*models.TeamSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.id, t.name, m.role
		FROM team_members m
		JOIN teams t ON t.id = m.team_id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*models.TeamSummary
	for rows.Next() {
		var s models.TeamSummary
		if err := rows.Scan(&s.TeamID, &s.TeamName, &s.Role); err != nil {
			return nil, err
		}
		teams = append(teams, &s)
	}
	return teams, rows.Err()
}

// ListMembers returns the team roster with each member's user.
func (r *MembershipRepository) ListMembers(ctx context.Context, teamID string) ([]*models.Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, m.team_id, m.role, m.created_at,
		       u.id, u.email, u.name, u.created_at, u.deleted_at
		FROM team_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY m.created_at ASC, m.id ASC
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		var (
			member    models.Member
			user      models.User
			name      sql.NullString
			deletedAt sql.NullInt64
		)
		err := rows.Scan(&member.ID, &member.UserID, &member.TeamID, &member.Role, &member.CreatedAt,
			&user.ID, &user.Email, &name, &user.CreatedAt, &deletedAt)
		if err != nil {
			return nil, err
		}
		user.Name = name.String
		user.DeletedAt = int64Ptr(deletedAt)
		member.User = &user
		members = append(members, &member)
	}
	return members, rows.Err()
}

// CountByTeam counts membership rows for a team regardless of role.
func (r *MembershipRepository) CountByTeam(ctx context.Context, teamID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM team_members WHERE team_id = $1`, teamID).Scan(&n)
	return n, err
}

// EmailIsMember reports whether a user with this email belongs to the team.
func (r *MembershipRepository) EmailIsMember(ctx context.Context, q Querier, teamID, email string) (bool, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM team_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1 AND u.email = $2
	`, teamID, email).Scan(&n)
	return n > 0, err
}
