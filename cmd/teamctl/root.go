package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"seatkeeper/internal/pkg/validator"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/workers"
)

type opener func(configPath string, out io.Writer) (*app, error)

func newRootCmd(open opener) *cobra.Command {
	var (
		configPath string
		actingAs   string
		a          *app
	)

	root := &cobra.Command{
		Use:           "teamctl",
		Short:         "Manage teams, invitations and seat billing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = open(configPath, cmd.OutOrStdout())
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a == nil {
				return nil
			}
			return a.Close()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&actingAs, "as", "", "Email of the acting user")

	current := func() *app { return a }
	me := func(cmd *cobra.Command) (*models.User, error) {
		return a.actingUser(cmd.Context(), strings.ToLower(strings.TrimSpace(actingAs)))
	}

	root.AddCommand(
		newSeedCmd(current),
		newUserCmd(current),
		newTeamCmd(current, me),
		newInviteCmd(current, me),
		newBillingCmd(current),
		newActivityCmd(current, me),
	)
	return root
}

type actor func(cmd *cobra.Command) (*models.User, error)

func newSeedCmd(current func() *app) *cobra.Command {
	var customerID string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the local test user and team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			ctx := cmd.Context()

			user := &models.User{
				ID:        "usr_" + uuid.NewString(),
				Email:     "test@test.com",
				Name:      "Test User",
				CreatedAt: time.Now().Unix(),
			}
			if err := a.users.Create(ctx, user); err != nil {
				return fmt.Errorf("create seed user: %w", err)
			}

			team, err := a.teamService.CreateTeam(ctx, user, "Test Team")
			if err != nil {
				return err
			}
			if customerID != "" {
				if err := a.teamService.LinkCustomer(ctx, team.ID, customerID); err != nil {
					return err
				}
				team.StripeCustomerID = customerID
			}

			a.log.Info().Str("user_id", user.ID).Str("team_id", team.ID).Msg("Seeded database")
			return a.print(map[string]interface{}{"user": user, "team": team})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Stripe customer id to link to the seed team")
	return cmd
}

func newUserCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}

	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			normalized, err := validator.NormalizeEmail(email)
			if err != nil {
				return err
			}
			user := &models.User{
				ID:        "usr_" + uuid.NewString(),
				Email:     normalized,
				Name:      name,
				CreatedAt: time.Now().Unix(),
			}
			if err := a.users.Create(cmd.Context(), user); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			return a.print(user)
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	create.Flags().StringVar(&name, "name", "", "Display name")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func newTeamCmd(current func() *app, me actor) *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Manage teams"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team owned by the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			team, err := current().teamService.CreateTeam(cmd.Context(), user, name)
			if err != nil {
				return err
			}
			return current().print(team)
		},
	}
	create.Flags().StringVar(&name, "name", "", "Team name")

	var hint string
	show := &cobra.Command{
		Use:   "current",
		Short: "Show the acting user's current team with its members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			team, err := current().resolver.ResolveCurrentTeam(cmd.Context(), user.ID, hint)
			if err != nil {
				return err
			}
			return current().print(team)
		},
	}
	show.Flags().StringVar(&hint, "hint", "", "Preferred team id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the acting user's teams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			summaries, err := current().resolver.ListTeams(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			return current().print(summaries)
		},
	}

	var removeFrom string
	remove := &cobra.Command{
		Use:   "remove <membership_id>",
		Short: "Remove a member from a team and update its billed seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			res, err := current().teamService.RemoveMember(cmd.Context(), removeFrom, user, args[0])
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}
	remove.Flags().StringVar(&removeFrom, "team", "", "Team id")
	_ = remove.MarkFlagRequired("team")

	cmd.AddCommand(create, show, list, remove)
	return cmd
}

func newInviteCmd(current func() *app, me actor) *cobra.Command {
	cmd := &cobra.Command{Use: "invite", Short: "Manage team invitations"}

	var teamID, email, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Invite an email address to a team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			res, err := current().ledger.CreateInvitation(cmd.Context(), teamID, user, email, role)
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}
	create.Flags().StringVar(&teamID, "team", "", "Team id")
	create.Flags().StringVar(&email, "email", "", "Invitee email")
	create.Flags().StringVar(&role, "role", models.RoleMember, "Role granted on acceptance")
	_ = create.MarkFlagRequired("team")
	_ = create.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List invitations pending for the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			pending, err := current().ledger.ListPending(cmd.Context(), user)
			if err != nil {
				return err
			}
			return current().print(pending)
		},
	}

	accept := &cobra.Command{
		Use:   "accept <invitation_id>",
		Short: "Accept an invitation and update the team's billed seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			res, err := current().ledger.AcceptInvitation(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}

	decline := &cobra.Command{
		Use:   "decline <invitation_id>",
		Short: "Decline an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			res, err := current().ledger.DeclineInvitation(cmd.Context(), args[0], user)
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}

	cmd.AddCommand(create, list, accept, decline)
	return cmd
}

func newBillingCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{Use: "billing", Short: "Seat billing operations"}

	reconcile := &cobra.Command{
		Use:   "reconcile <team_id>",
		Short: "Push a team's member count to its subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := current().syncer.ReconcileSeatQuantity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}

	all := &cobra.Command{
		Use:   "reconcile-all",
		Short: "Reconcile every subscribed team once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			summary, err := workers.ReconcileAll(cmd.Context(), a.teamRepo, a.syncer, a.concurrency, a.log)
			if summary != nil {
				if perr := a.print(summary); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	var checkoutTeam, priceID string
	checkout := &cobra.Command{
		Use:   "checkout",
		Short: "Open a hosted checkout billed at the team's member count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := current().syncer.StartCheckout(cmd.Context(), checkoutTeam, priceID)
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}
	checkout.Flags().StringVar(&checkoutTeam, "team", "", "Team id")
	checkout.Flags().StringVar(&priceID, "price", "", "Per-seat price id")
	_ = checkout.MarkFlagRequired("team")
	_ = checkout.MarkFlagRequired("price")

	var portalTeam string
	portal := &cobra.Command{
		Use:   "portal",
		Short: "Open the billing portal for a paying team",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := current().syncer.OpenPortal(cmd.Context(), portalTeam)
			if err != nil {
				return err
			}
			return current().report(res.Kind, res)
		},
	}
	portal.Flags().StringVar(&portalTeam, "team", "", "Team id")
	_ = portal.MarkFlagRequired("team")

	cmd.AddCommand(reconcile, all, checkout, portal)
	return cmd
}

func newActivityCmd(current func() *app, me actor) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the acting user's recent activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := me(cmd)
			if err != nil {
				return err
			}
			entries, err := current().activity.Recent(cmd.Context(), user.ID, limit)
			if err != nil {
				return err
			}
			return current().print(entries)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum entries to show")
	return cmd
}
