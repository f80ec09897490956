// Package invitations manages team invitations and turns accepted ones into
// memberships.
package invitations

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
	"seatkeeper/internal/pkg/metrics"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/pkg/validator"
	"seatkeeper/internal/platform/audit"
	"seatkeeper/internal/platform/database"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/repositories"
)

// Reconciler is the part of billing the ledger needs after a membership
// change.
type Reconciler interface {
	ReconcileSeatQuantity(ctx context.Context, teamID string) (billing.SyncResult, error)
}

type Result struct {
	Kind    outcome.Kind        `json:"kind"`
	TeamID  string              `json:"team_id,omitempty"`
	Billing *billing.SyncResult `json:"billing,omitempty"`
}

type CreateResult struct {
	Kind       outcome.Kind       `json:"kind"`
	Invitation *models.Invitation `json:"invitation,omitempty"`
}

type Ledger struct {
	db          *sql.DB
	invitations *repositories.InvitationRepository
	members     *repositories.MembershipRepository
	activity    *audit.Logger
	billing     Reconciler
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewLedger(db *sql.DB, activity *audit.Logger, reconciler Reconciler, m *metrics.Metrics, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:          db,
		invitations: repositories.NewInvitationRepository(db),
		members:     repositories.NewMembershipRepository(db),
		activity:    activity,
		billing:     reconciler,
		metrics:     m,
		log:         log.With().Str("component", "invitations").Logger(),
	}
}

// AcceptInvitation joins user to the invitation's team and then reconciles
// the team's billed seats. A user who is already a member gets no second
// membership, but the invitation is still closed.
func (l *Ledger) AcceptInvitation(ctx context.Context, invitationID string, user *models.User) (Result, error) {
	log := l.log.With().Str("invitation_id", invitationID).Str("user_id", user.ID).Logger()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	inv, err := l.invitations.GetPendingFor(ctx, tx, invitationID, strings.ToLower(user.Email))
	if errors.Is(err, repositories.ErrNotFound) {
		return l.done("accept", Result{Kind: outcome.NotFound}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load invitation %s: %w", invitationID, err)
	}

	now := time.Now().Unix()
	created, err := l.members.AddTx(ctx, tx, &models.Membership{
		ID:        "tm_" + uuid.NewString(),
		UserID:    user.ID,
		TeamID:    inv.TeamID,
		Role:      inv.Role,
		CreatedAt: now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("add member to team %s: %w", inv.TeamID, err)
	}

	err = l.invitations.ResolveTx(ctx, tx, inv.ID, models.InvitationAccepted, now)
	if errors.Is(err, repositories.ErrNotFound) {
		// Resolved by a concurrent request since we read it.
		return l.done("accept", Result{Kind: outcome.NotFound}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("accept invitation %s: %w", inv.ID, err)
	}

	if created {
		if _, err := l.activity.Append(ctx, tx, inv.TeamID, user.ID, audit.ActionAcceptInvitation); err != nil {
			return Result{}, fmt.Errorf("record activity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	if !created {
		log.Info().Str("team_id", inv.TeamID).Msg("Invitation accepted by existing member")
		return l.done("accept", Result{Kind: outcome.AlreadyInState, TeamID: inv.TeamID}), nil
	}
	log.Info().Str("team_id", inv.TeamID).Str("role", inv.Role).Msg("Invitation accepted")

	sync, err := l.billing.ReconcileSeatQuantity(ctx, inv.TeamID)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile seats for team %s: %w", inv.TeamID, err)
	}
	if !sync.Kind.OK() && sync.Kind != outcome.AlreadyInState {
		log.Warn().Str("team_id", inv.TeamID).Str("billing", sync.Kind.String()).Str("reason", sync.Reason).
			Msg("Seat reconciliation after acceptance did not succeed")
	}

	return l.done("accept", Result{Kind: outcome.Success, TeamID: inv.TeamID, Billing: &sync}), nil
}

// DeclineInvitation closes a pending invitation without touching
// memberships or billing.
func (l *Ledger) DeclineInvitation(ctx context.Context, invitationID string, user *models.User) (Result, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	inv, err := l.invitations.GetPendingFor(ctx, tx, invitationID, strings.ToLower(user.Email))
	if errors.Is(err, repositories.ErrNotFound) {
		return l.done("decline", Result{Kind: outcome.NotFound}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load invitation %s: %w", invitationID, err)
	}

	err = l.invitations.ResolveTx(ctx, tx, inv.ID, models.InvitationDeclined, time.Now().Unix())
	if errors.Is(err, repositories.ErrNotFound) {
		return l.done("decline", Result{Kind: outcome.NotFound}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("decline invitation %s: %w", inv.ID, err)
	}

	if _, err := l.activity.Append(ctx, tx, inv.TeamID, user.ID, audit.ActionDeclineInvitation); err != nil {
		return Result{}, fmt.Errorf("record activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	l.log.Info().Str("invitation_id", inv.ID).Str("team_id", inv.TeamID).Str("user_id", user.ID).Msg("Invitation declined")
	return l.done("decline", Result{Kind: outcome.Success, TeamID: inv.TeamID}), nil
}

// CreateInvitation invites email to the team. Only owners may invite.
func (l *Ledger) CreateInvitation(ctx context.Context, teamID string, inviter *models.User, email, role string) (CreateResult, error) {
	if err := validator.ValidateRole(role); err != nil {
		return CreateResult{}, err
	}
	email, err := validator.NormalizeEmail(email)
	if err != nil {
		return CreateResult{}, err
	}

	membership, err := l.members.Get(ctx, l.db, inviter.ID, teamID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return CreateResult{}, fmt.Errorf("check inviter membership: %w", err)
	}
	if membership == nil || membership.Role != models.RoleOwner {
		return l.created(CreateResult{Kind: outcome.Unauthorized}), nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return CreateResult{}, err
	}
	defer tx.Rollback()

	isMember, err := l.members.EmailIsMember(ctx, tx, teamID, email)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check existing member: %w", err)
	}
	if isMember {
		return l.created(CreateResult{Kind: outcome.AlreadyInState}), nil
	}

	pending, err := l.invitations.HasPending(ctx, tx, teamID, email)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check pending invitation: %w", err)
	}
	if pending {
		return l.created(CreateResult{Kind: outcome.AlreadyInState}), nil
	}

	now := time.Now().Unix()
	inv := &models.Invitation{
		ID:        "inv_" + uuid.NewString(),
		TeamID:    teamID,
		Email:     email,
		Role:      role,
		InvitedBy: inviter.ID,
		Status:    models.InvitationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.invitations.CreateTx(ctx, tx, inv); err != nil {
		if database.IsUniqueViolation(err) {
			return l.created(CreateResult{Kind: outcome.AlreadyInState}), nil
		}
		return CreateResult{}, fmt.Errorf("create invitation: %w", err)
	}

	if _, err := l.activity.Append(ctx, tx, teamID, inviter.ID, audit.ActionInviteTeamMember); err != nil {
		return CreateResult{}, fmt.Errorf("record activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CreateResult{}, err
	}

	l.log.Info().Str("invitation_id", inv.ID).Str("team_id", teamID).Str("role", role).Msg("Invitation created")
	return l.created(CreateResult{Kind: outcome.Success, Invitation: inv}), nil
}

// ListPending returns the invitations waiting on the user's email.
func (l *Ledger) ListPending(ctx context.Context, user *models.User) ([]*models.InvitationDetails, error) {
	list, err := l.invitations.ListPendingForEmail(ctx, strings.ToLower(user.Email))
	if err != nil {
		return nil, fmt.Errorf("list invitations for %s: %w", user.ID, err)
	}
	return list, nil
}

func (l *Ledger) done(action string, res Result) Result {
	l.metrics.ObserveInvitation(action, res.Kind)
	return res
}

func (l *Ledger) created(res CreateResult) CreateResult {
	l.metrics.ObserveInvitation("create", res.Kind)
	return res
}
