package teams

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/audit"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/repositories"
)

var (
	ErrInvalidTeamName = errors.New("team name must not be empty")
	ErrLastOwner       = errors.New("cannot remove the team's last owner")
)

// Reconciler is the part of billing run after the roster shrinks.
type Reconciler interface {
	ReconcileSeatQuantity(ctx context.Context, teamID string) (billing.SyncResult, error)
}

type RemoveResult struct {
	Kind    outcome.Kind        `json:"kind"`
	TeamID  string              `json:"team_id,omitempty"`
	Billing *billing.SyncResult `json:"billing,omitempty"`
}

type Service struct {
	db       *sql.DB
	teams    *repositories.TeamRepository
	members  *repositories.MembershipRepository
	activity *audit.Logger
	billing  Reconciler
	log      zerolog.Logger
}

func NewService(db *sql.DB, activity *audit.Logger, reconciler Reconciler, log zerolog.Logger) *Service {
	return &Service{
		db:       db,
		teams:    repositories.NewTeamRepository(db),
		members:  repositories.NewMembershipRepository(db),
		activity: activity,
		billing:  reconciler,
		log:      log.With().Str("component", "teams").Logger(),
	}
}

// CreateTeam creates a team with owner as its first member.
func (s *Service) CreateTeam(ctx context.Context, owner *models.User, name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidTeamName
	}

	now := time.Now().Unix()
	team := &models.Team{
		ID:                 "team_" + uuid.NewString(),
		Name:               name,
		SubscriptionStatus: models.SubscriptionStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := s.teams.CreateTx(ctx, tx, team); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}

	membership := &models.Membership{
		ID:        "tm_" + uuid.NewString(),
		UserID:    owner.ID,
		TeamID:    team.ID,
		Role:      models.RoleOwner,
		CreatedAt: now,
	}
	if err := s.members.CreateTx(ctx, tx, membership); err != nil {
		return nil, fmt.Errorf("add owner: %w", err)
	}

	if _, err := s.activity.Append(ctx, tx, team.ID, owner.ID, audit.ActionCreateTeam); err != nil {
		return nil, fmt.Errorf("record activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.log.Info().Str("team_id", team.ID).Str("user_id", owner.ID).Msg("Team created")
	return team, nil
}

// LinkCustomer associates the team with its payment processor customer so
// subscription events for that customer reach it.
func (s *Service) LinkCustomer(ctx context.Context, teamID, customerID string) error {
	if err := s.teams.SetCustomerID(ctx, teamID, customerID); err != nil {
		return fmt.Errorf("link customer %s to team %s: %w", customerID, teamID, err)
	}
	return nil
}

// RemoveMember deletes a membership from the team and then reconciles the
// team's billed seats. Only owners may remove members, and the last owner
// cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, teamID string, actor *models.User, membershipID string) (RemoveResult, error) {
	log := s.log.With().Str("team_id", teamID).Str("membership_id", membershipID).Str("user_id", actor.ID).Logger()

	own, err := s.members.Get(ctx, s.db, actor.ID, teamID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return RemoveResult{}, fmt.Errorf("check actor membership: %w", err)
	}
	if own == nil || own.Role != models.RoleOwner {
		return RemoveResult{Kind: outcome.Unauthorized}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RemoveResult{}, err
	}
	defer tx.Rollback()

	err = s.teams.LockTx(ctx, tx, teamID)
	if errors.Is(err, repositories.ErrNotFound) {
		return RemoveResult{Kind: outcome.NotFound}, nil
	}
	if err != nil {
		return RemoveResult{}, fmt.Errorf("lock team %s: %w", teamID, err)
	}

	target, err := s.members.GetByID(ctx, tx, membershipID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && target.TeamID != teamID) {
		return RemoveResult{Kind: outcome.NotFound}, nil
	}
	if err != nil {
		return RemoveResult{}, fmt.Errorf("load membership %s: %w", membershipID, err)
	}

	removed, err := s.members.RemoveTx(ctx, tx, membershipID, teamID)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("remove membership %s: %w", membershipID, err)
	}
	if !removed {
		return RemoveResult{}, ErrLastOwner
	}

	if _, err := s.activity.Append(ctx, tx, teamID, actor.ID, audit.ActionRemoveTeamMember); err != nil {
		return RemoveResult{}, fmt.Errorf("record activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RemoveResult{}, err
	}
	log.Info().Str("removed_user_id", target.UserID).Msg("Member removed")

	sync, err := s.billing.ReconcileSeatQuantity(ctx, teamID)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("reconcile seats for team %s: %w", teamID, err)
	}
	if !sync.Kind.OK() && sync.Kind != outcome.AlreadyInState {
		log.Warn().Str("billing", sync.Kind.String()).Str("reason", sync.Reason).
			Msg("Seat reconciliation after removal did not succeed")
	}

	return RemoveResult{Kind: outcome.Success, TeamID: teamID, Billing: &sync}, nil
}
