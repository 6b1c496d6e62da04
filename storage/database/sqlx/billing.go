package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/josh-code/enlight/core/billing"
)

type billingRepository struct {
	db *sqlx.DB
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(db *sqlx.DB) *billingRepository {
	return &billingRepository{db: db}
}

type dbSubscription struct {
	ID                 string       `db:"id"`
	UserID             string       `db:"user_id"`
	StripeID           string       `db:"stripe_id"`
	CustomerID         string       `db:"customer_id"`
	Status             string       `db:"status"`
	Plan               string       `db:"plan"`
	PriceID            string       `db:"price_id"`
	Amount             int64        `db:"amount"`
	Currency           string       `db:"currency"`
	CurrentPeriodStart sql.NullTime `db:"current_period_start"`
	CurrentPeriodEnd   sql.NullTime `db:"current_period_end"`
	CancelAtPeriodEnd  bool         `db:"cancel_at_period_end"`
	CanceledAt         sql.NullTime `db:"canceled_at"`
	TotalPaid          int64        `db:"total_paid"`
	InvoiceCount       int          `db:"invoice_count"`
	LastInvoiceID      string       `db:"last_invoice_id"`
	CreatedAt          sql.NullTime `db:"created_at"`
	UpdatedAt          sql.NullTime `db:"updated_at"`
}

func (repo billingRepository) packSubscription(sub billing.Subscription) dbSubscription {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	return dbSubscription{
		ID:                 sub.ID,
		UserID:             sub.UserID,
		StripeID:           sub.StripeID,
		CustomerID:         sub.CustomerID,
		Status:             string(sub.Status),
		Plan:               string(sub.Plan),
		PriceID:            sub.PriceID,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		CurrentPeriodStart: sql.NullTime{Time: sub.CurrentPeriodStart.UTC(), Valid: !sub.CurrentPeriodStart.IsZero()},
		CurrentPeriodEnd:   sql.NullTime{Time: sub.CurrentPeriodEnd.UTC(), Valid: !sub.CurrentPeriodEnd.IsZero()},
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sql.NullTime{Time: sub.CanceledAt.UTC(), Valid: !sub.CanceledAt.IsZero()},
		TotalPaid:          sub.TotalPaid,
		InvoiceCount:       sub.InvoiceCount,
		LastInvoiceID:      sub.LastInvoiceID,
		CreatedAt:          sql.NullTime{Time: sub.CreatedAt.UTC(), Valid: !sub.CreatedAt.IsZero()},
		UpdatedAt:          sql.NullTime{Time: sub.UpdatedAt.UTC(), Valid: !sub.UpdatedAt.IsZero()},
	}
}

func (repo billingRepository) unpackSubscription(row dbSubscription) billing.Subscription {
	return billing.Subscription{
		ID:                 row.ID,
		UserID:             row.UserID,
		StripeID:           row.StripeID,
		CustomerID:         row.CustomerID,
		Status:             billing.Status(row.Status),
		Plan:               billing.PlanType(row.Plan),
		PriceID:            row.PriceID,
		Amount:             row.Amount,
		Currency:           row.Currency,
		CurrentPeriodStart: row.CurrentPeriodStart.Time,
		CurrentPeriodEnd:   row.CurrentPeriodEnd.Time,
		CancelAtPeriodEnd:  row.CancelAtPeriodEnd,
		CanceledAt:         row.CanceledAt.Time,
		TotalPaid:          row.TotalPaid,
		InvoiceCount:       row.InvoiceCount,
		LastInvoiceID:      row.LastInvoiceID,
		CreatedAt:          row.CreatedAt.Time,
		UpdatedAt:          row.UpdatedAt.Time,
	}
}

// trapNoRowsErr maps psql "no rows" err to billing.ErrNotFound
func (repo billingRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return billing.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo billingRepository) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (billing.Subscription, error) {
	var row dbSubscription
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM subscription WHERE stripe_id = $1`, stripeID)
	if err != nil {
		return billing.Subscription{}, repo.trapNoRowsErr(err, "finding subscription by stripe ID")
	}
	return repo.unpackSubscription(row), nil
}

func (repo billingRepository) GetSubscriptionForUser(ctx context.Context, userID string) (billing.Subscription, error) {
	var row dbSubscription
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM subscription
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, userID)
	if err != nil {
		return billing.Subscription{}, repo.trapNoRowsErr(err, "finding subscription for user")
	}
	return repo.unpackSubscription(row), nil
}

func (repo billingRepository) GetActiveSubscriptionForUser(ctx context.Context, userID string) (billing.Subscription, error) {
	var row dbSubscription
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM subscription
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`, userID, billing.StatusActive, billing.StatusTrialing)
	if err != nil {
		return billing.Subscription{}, repo.trapNoRowsErr(err, "finding active subscription for user")
	}
	return repo.unpackSubscription(row), nil
}

func (repo billingRepository) UpsertSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	row := repo.packSubscription(sub)
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO subscription (id, user_id, stripe_id, customer_id, status, plan, price_id, amount, currency,
		                          current_period_start, current_period_end, cancel_at_period_end, canceled_at,
		                          total_paid, invoice_count, last_invoice_id, created_at, updated_at)
		VALUES (:id, :user_id, :stripe_id, :customer_id, :status, :plan, :price_id, :amount, :currency,
		        :current_period_start, :current_period_end, :cancel_at_period_end, :canceled_at,
		        :total_paid, :invoice_count, :last_invoice_id, :created_at, :updated_at)
		ON CONFLICT (stripe_id) DO UPDATE SET
			user_id              = EXCLUDED.user_id,
			customer_id          = EXCLUDED.customer_id,
			status               = EXCLUDED.status,
			plan                 = EXCLUDED.plan,
			price_id             = EXCLUDED.price_id,
			amount               = EXCLUDED.amount,
			currency             = EXCLUDED.currency,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end   = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at          = EXCLUDED.canceled_at,
			total_paid           = EXCLUDED.total_paid,
			invoice_count        = EXCLUDED.invoice_count,
			last_invoice_id      = EXCLUDED.last_invoice_id,
			updated_at           = EXCLUDED.updated_at`, row)
	if err != nil {
		return billing.Subscription{}, errors.Wrap(err, "upserting subscription")
	}
	return repo.GetSubscriptionByStripeID(ctx, sub.StripeID)
}

type dbPlan struct {
	ID             string       `db:"id"`
	MonthlyPriceID string       `db:"monthly_price_id"`
	MonthlyAmount  int64        `db:"monthly_amount"`
	YearlyPriceID  string       `db:"yearly_price_id"`
	YearlyAmount   int64        `db:"yearly_amount"`
	Currency       string       `db:"currency"`
	IsActive       bool         `db:"is_active"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

func (repo billingRepository) unpackPlan(row dbPlan) billing.Plan {
	return billing.Plan{
		ID:             row.ID,
		MonthlyPriceID: row.MonthlyPriceID,
		MonthlyAmount:  row.MonthlyAmount,
		YearlyPriceID:  row.YearlyPriceID,
		YearlyAmount:   row.YearlyAmount,
		Currency:       row.Currency,
		IsActive:       row.IsActive,
		UpdatedAt:      row.UpdatedAt.Time,
	}
}

func (repo billingRepository) GetActivePlan(ctx context.Context) (billing.Plan, error) {
	var row dbPlan
	err := repo.db.GetContext(ctx, &row, `
		SELECT * FROM subscription_plan
		WHERE is_active
		ORDER BY updated_at DESC
		LIMIT 1`)
	if err != nil {
		if err == sql.ErrNoRows {
			return billing.Plan{}, billing.ErrPlanNotFound
		}
		return billing.Plan{}, errors.Wrap(err, "finding active plan")
	}
	return repo.unpackPlan(row), nil
}

func (repo billingRepository) SavePlan(ctx context.Context, plan billing.Plan) (billing.Plan, error) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	row := dbPlan{
		ID:             plan.ID,
		MonthlyPriceID: plan.MonthlyPriceID,
		MonthlyAmount:  plan.MonthlyAmount,
		YearlyPriceID:  plan.YearlyPriceID,
		YearlyAmount:   plan.YearlyAmount,
		Currency:       plan.Currency,
		IsActive:       plan.IsActive,
		UpdatedAt:      sql.NullTime{Time: plan.UpdatedAt.UTC(), Valid: !plan.UpdatedAt.IsZero()},
	}
	_, err := repo.db.NamedExecContext(ctx, `
		INSERT INTO subscription_plan (id, monthly_price_id, monthly_amount, yearly_price_id, yearly_amount,
		                               currency, is_active, updated_at)
		VALUES (:id, :monthly_price_id, :monthly_amount, :yearly_price_id, :yearly_amount,
		        :currency, :is_active, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			monthly_price_id = EXCLUDED.monthly_price_id,
			monthly_amount   = EXCLUDED.monthly_amount,
			yearly_price_id  = EXCLUDED.yearly_price_id,
			yearly_amount    = EXCLUDED.yearly_amount,
			currency         = EXCLUDED.currency,
			is_active        = EXCLUDED.is_active,
			updated_at       = EXCLUDED.updated_at`, row)
	if err != nil {
		return billing.Plan{}, errors.Wrap(err, "saving plan")
	}
	return repo.unpackPlan(row), nil
}
