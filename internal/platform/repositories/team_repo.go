package repositories

import (
	"context"
	"database/sql"
	"time"

	"seatkeeper/internal/platform/models"
)

const teamColumns = `id, name, stripe_customer_id, stripe_subscription_id, stripe_product_id, plan_name,
	subscription_status, cancel_at_period_end, seats_billed, next_billing_date, billing_event_at,
	created_at, updated_at`

type TeamRepository struct {
	db *sql.DB
}

func NewTeamRepository(db *sql.DB) *TeamRepository {
	return &TeamRepository{db: db}
}

func (r *TeamRepository) CreateTx(ctx context.Context, tx *sql.Tx, team *models.Team) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO teams (id, name, stripe_customer_id, subscription_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, team.ID, team.Name, nullString(team.StripeCustomerID), string(team.SubscriptionStatus), team.CreatedAt, team.UpdatedAt)
	return err
}

func (r *TeamRepository) GetByID(ctx context.Context, id string) (*models.Team, error) {
	return scanTeam(r.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

func (r *TeamRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Team, error) {
	return scanTeam(r.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE stripe_customer_id = $1`, customerID))
}

// ListSubscribed returns every team that currently has a subscription id.
func (r *TeamRepository) ListSubscribed(ctx context.Context) ([]*models.Team, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+teamColumns+` FROM teams
		WHERE stripe_subscription_id IS NOT NULL
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// LockTx touches the team row inside tx so concurrent membership changes to
// the same team run one after another.
func (r *TeamRepository) LockTx(ctx context.Context, tx *sql.Tx, teamID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE teams SET updated_at = $1 WHERE id = $2
	`, time.Now().Unix(), teamID)
	return affected(res, err)
}

// SetCustomerID links a team to its processor customer.
func (r *TeamRepository) SetCustomerID(ctx context.Context, teamID, customerID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams SET stripe_customer_id = $1, updated_at = $2 WHERE id = $3
	`, nullString(customerID), time.Now().Unix(), teamID)
	return affected(res, err)
}

// UpdateSeats records a pushed seat quantity and the period end it runs to.
// The row is written only while the team still holds subscriptionID in an
// active or trialing status; it reports whether it was written.
func (r *TeamRepository) UpdateSeats(ctx context.Context, teamID, subscriptionID string, seats int64, nextBillingDate *int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams SET seats_billed = $1, next_billing_date = $2, updated_at = $3
		WHERE id = $4 AND stripe_subscription_id = $5
			AND subscription_status IN ('active', 'trialing')
	`, seats, nullInt64(nextBillingDate), time.Now().Unix(), teamID, subscriptionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BillingState is the full set of subscription fields mirrored from the
// payment processor. Empty strings are stored as NULL.
type BillingState struct {
	SubscriptionID    string
	ProductID         string
	PlanName          string
	Status            models.SubscriptionStatus
	CancelAtPeriodEnd bool
	SeatsBilled       *int64
	NextBillingDate   *int64
	EventAt           int64
}

// ApplyBillingState overwrites the team's billing fields unless a newer event
// has already been applied. It reports whether the row was written.
func (r *TeamRepository) ApplyBillingState(ctx context.Context, teamID string, s BillingState) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teams SET
			stripe_subscription_id = $1,
			stripe_product_id = $2,
			plan_name = $3,
			subscription_status = $4,
			cancel_at_period_end = $5,
			seats_billed = $6,
			next_billing_date = $7,
			billing_event_at = $8,
			updated_at = $9
		WHERE id = $10 AND billing_event_at <= $8
	`, nullString(s.SubscriptionID), nullString(s.ProductID), nullString(s.PlanName), string(s.Status),
		s.CancelAtPeriodEnd, nullInt64(s.SeatsBilled), nullInt64(s.NextBillingDate), s.EventAt,
		time.Now().Unix(), teamID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTeam(row rowScanner) (*models.Team, error) {
	var (
		team                                        models.Team
		customerID, subscriptionID, productID, plan sql.NullString
		status                                      string
		seats, nextBilling                          sql.NullInt64
	)
	err := row.Scan(&team.ID, &team.Name, &customerID, &subscriptionID, &productID, &plan,
		&status, &team.CancelAtPeriodEnd, &seats, &nextBilling, &team.BillingEventAt,
		&team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	team.StripeCustomerID = customerID.String
	team.StripeSubscriptionID = subscriptionID.String
	team.StripeProductID = productID.String
	team.PlanName = plan.String
	team.SubscriptionStatus = models.SubscriptionStatus(status)
	team.SeatsBilled = int64Ptr(seats)
	team.NextBillingDate = int64Ptr(nextBilling)
	return &team, nil
}

func affected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
