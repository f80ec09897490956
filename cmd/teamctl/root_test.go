package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/platform/database/dbtest"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments/paymentstest"
)

type harness struct {
	db        *sql.DB
	processor *paymentstest.Processor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{db: dbtest.Open(t), processor: paymentstest.New()}
}

func (h *harness) run(args ...string) (string, error) {
	var out bytes.Buffer
	open := func(configPath string, w io.Writer) (*app, error) {
		return newApp(h.db, h.processor, billing.CheckoutOptions{BaseURL: "https://app.test", TrialDays: 14}, 2, zerolog.Nop(), w), nil
	}

	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeed(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("seed", "--customer", "cus_seed")
	require.NoError(t, err)

	var seeded struct {
		User models.User `json:"user"`
		Team models.Team `json:"team"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &seeded))
	assert.Equal(t, "test@test.com", seeded.User.Email)
	assert.Equal(t, "Test Team", seeded.Team.Name)
	assert.Equal(t, "cus_seed", seeded.Team.StripeCustomerID)

	out, err = h.run("team", "list", "--as", "test@test.com")
	require.NoError(t, err)

	var summaries []models.TeamSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, models.RoleOwner, summaries[0].Role)
}

func TestInviteAndAccept(t *testing.T) {
	h := newHarness(t)
	dbtest.InsertUser(t, h.db, "usr_1", "owner@x.com")
	dbtest.InsertUser(t, h.db, "usr_2", "new@x.com")
	dbtest.InsertTeam(t, h.db, "team_1", "Acme", "cus_1")
	dbtest.InsertMember(t, h.db, "tm_1", "usr_1", "team_1", models.RoleOwner, 1)
	dbtest.Subscribe(t, h.db, "team_1", "sub_1", "active")
	h.processor.AddSubscription("sub_1", "cus_1", "prod_pro", 1, 1767225600)

	out, err := h.run("invite", "create", "--as", "owner@x.com", "--team", "team_1", "--email", "NEW@x.com")
	require.NoError(t, err)

	var created struct {
		Kind       string            `json:"kind"`
		Invitation models.Invitation `json:"invitation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "success", created.Kind)
	assert.Equal(t, "new@x.com", created.Invitation.Email)

	out, err = h.run("invite", "accept", created.Invitation.ID, "--as", "new@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "success"`)
	assert.Equal(t, int64(2), h.processor.Quantity("sub_1"))

	_, err = h.run("invite", "accept", created.Invitation.ID, "--as", "new@x.com")
	assert.ErrorContains(t, err, "not_found")

	out, err = h.run("activity", "--as", "new@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCEPT_INVITATION")
}

func TestBillingReconcileAll(t *testing.T) {
	h := newHarness(t)
	dbtest.InsertUser(t, h.db, "usr_1", "owner@x.com")
	dbtest.InsertTeam(t, h.db, "team_1", "Acme", "cus_1")
	dbtest.InsertMember(t, h.db, "tm_1", "usr_1", "team_1", models.RoleOwner, 1)
	dbtest.Subscribe(t, h.db, "team_1", "sub_1", "active")
	h.processor.AddSubscription("sub_1", "cus_1", "prod_pro", 5, 1767225600)

	out, err := h.run("billing", "reconcile-all")
	require.NoError(t, err)
	assert.Contains(t, out, `"success": 1`)
	assert.Equal(t, int64(1), h.processor.Quantity("sub_1"))

	_, err = h.run("billing", "reconcile", "team_missing")
	assert.ErrorContains(t, err, "not_found")
}

func TestActingUserRequired(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("team", "list")
	assert.ErrorContains(t, err, "--as is required")

	_, err = h.run("team", "list", "--as", "ghost@x.com")
	assert.ErrorContains(t, err, "no user with email")
}

func TestRemoveMemberAndCheckout(t *testing.T) {
	h := newHarness(t)
	dbtest.InsertUser(t, h.db, "usr_1", "owner@x.com")
	dbtest.InsertUser(t, h.db, "usr_2", "two@x.com")
	dbtest.InsertTeam(t, h.db, "team_1", "Acme", "cus_1")
	dbtest.InsertMember(t, h.db, "tm_1", "usr_1", "team_1", models.RoleOwner, 1)
	dbtest.InsertMember(t, h.db, "tm_2", "usr_2", "team_1", models.RoleMember, 2)
	dbtest.Subscribe(t, h.db, "team_1", "sub_1", "active")
	h.processor.AddSubscription("sub_1", "cus_1", "prod_pro", 2, 1767225600)

	out, err := h.run("billing", "checkout", "--team", "team_1", "--price", "price_base")
	require.NoError(t, err)
	assert.Contains(t, out, `"quantity": 2`)
	require.Len(t, h.processor.Checkouts, 1)
	assert.Equal(t, "https://app.test/pricing", h.processor.Checkouts[0].CancelURL)

	out, err = h.run("team", "remove", "tm_2", "--team", "team_1", "--as", "owner@x.com")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "success"`)
	assert.Equal(t, int64(1), h.processor.Quantity("sub_1"))

	_, err = h.run("team", "remove", "tm_1", "--team", "team_1", "--as", "owner@x.com")
	assert.ErrorContains(t, err, "last owner")
}
