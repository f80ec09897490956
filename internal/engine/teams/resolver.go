package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/repositories"
)

// Resolver picks the team a user is working in.
type Resolver struct {
	db      *sql.DB
	teams   *repositories.TeamRepository
	members *repositories.MembershipRepository
}

func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{
		db:      db,
		teams:   repositories.NewTeamRepository(db),
		members: repositories.NewMembershipRepository(db),
	}
}

// ResolveCurrentTeam returns the hinted team when the user belongs to it,
// otherwise the user's first team in membership order. It returns nil when
// the user has no memberships.
func (r *Resolver) ResolveCurrentTeam(ctx context.Context, userID, hint string) (*models.TeamWithMembers, error) {
	teamID := ""

	if hint != "" {
		_, err := r.members.Get(ctx, r.db, userID, hint)
		switch {
		case err == nil:
			teamID = hint
		case !errors.Is(err, repositories.ErrNotFound):
			return nil, fmt.Errorf("check membership of %s in %s: %w", userID, hint, err)
		}
	}

	if teamID == "" {
		first, err := r.members.First(ctx, userID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find first team of %s: %w", userID, err)
		}
		teamID = first.TeamID
	}

	team, err := r.teams.GetByID(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", teamID, err)
	}

	roster, err := r.members.ListMembers(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", teamID, err)
	}

	return &models.TeamWithMembers{Team: *team, Members: roster}, nil
}

// ListTeams returns every team the user belongs to, for switching between
// them.
func (r *Resolver) ListTeams(ctx context.Context, userID string) ([]*models.TeamSummary, error) {
	teams, err := r.members.ListTeams(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list teams of %s: %w", userID, err)
	}
	return teams, nil
}
