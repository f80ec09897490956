package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/database/dbtest"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments/paymentstest"
	"seatkeeper/internal/platform/repositories"
)

func TestReconcileAll(t *testing.T) {
	db := dbtest.Open(t)
	dbtest.InsertUser(t, db, "usr_1", "one@x.com")
	dbtest.InsertUser(t, db, "usr_2", "two@x.com")

	dbtest.InsertTeam(t, db, "team_a", "Alpha", "cus_a")
	dbtest.InsertMember(t, db, "tm_1", "usr_1", "team_a", models.RoleOwner, 1)
	dbtest.InsertMember(t, db, "tm_2", "usr_2", "team_a", models.RoleMember, 2)
	dbtest.Subscribe(t, db, "team_a", "sub_a", "active")

	dbtest.InsertTeam(t, db, "team_b", "Beta", "cus_b")
	dbtest.InsertMember(t, db, "tm_3", "usr_1", "team_b", models.RoleOwner, 1)
	dbtest.Subscribe(t, db, "team_b", "sub_missing", "active")

	dbtest.InsertTeam(t, db, "team_c", "Gamma", "cus_c")

	processor := paymentstest.New()
	processor.AddSubscription("sub_a", "cus_a", "prod_pro", 1, 1767225600)
	syncer := billing.NewSyncer(db, processor, nil, zerolog.Nop())

	summary, err := ReconcileAll(context.Background(), repositories.NewTeamRepository(db), syncer, 2, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Teams)
	assert.Equal(t, 1, summary.Outcomes[outcome.Success.String()])
	assert.Equal(t, 1, summary.Outcomes[outcome.ExternalServiceFailure.String()])
	assert.Equal(t, int64(2), processor.Quantity("sub_a"))
}

type stubLister struct {
	teams []*models.Team
	err   error
}

func (s stubLister) ListSubscribed(ctx context.Context) ([]*models.Team, error) {
	return s.teams, s.err
}

type stubReconciler map[string]error

func (s stubReconciler) ReconcileSeatQuantity(ctx context.Context, teamID string) (billing.SyncResult, error) {
	if err := s[teamID]; err != nil {
		return billing.SyncResult{}, err
	}
	return billing.SyncResult{Kind: outcome.Success, Quantity: 1}, nil
}

func TestReconcileAll_StoreErrorsJoined(t *testing.T) {
	boom := errors.New("database is locked")
	lister := stubLister{teams: []*models.Team{{ID: "team_a"}, {ID: "team_b"}, {ID: "team_c"}}}

	summary, err := ReconcileAll(context.Background(), lister, stubReconciler{"team_b": boom}, 0, zerolog.Nop())
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Outcomes["success"])
}

func TestReconcileAll_ListFailure(t *testing.T) {
	_, err := ReconcileAll(context.Background(), stubLister{err: errors.New("no db")}, stubReconciler{}, 1, zerolog.Nop())
	assert.Error(t, err)
}
