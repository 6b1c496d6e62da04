package billing

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/josh-code/enlight/core"
)

// Status mirrors the payment provider's subscription statuses verbatim;
// transitions are whatever the provider asserts, not validated for legality.
type Status string

const (
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// GrantsAccess reports whether the status permits gated content access.
func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// Subscription is the local record of a provider subscription. It is created
// on first successful checkout and updated by provider webhook events; access
// checks only ever read it.
type Subscription struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	StripeID           string    `json:"stripe_id"` // unique
	CustomerID         string    `json:"customer_id"`
	Status             Status    `json:"status"`
	Plan               PlanType  `json:"plan"`
	PriceID            string    `json:"price_id"`
	Amount             int64     `json:"amount"` // in the currency's smallest unit
	Currency           string    `json:"currency"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	CanceledAt         time.Time `json:"canceled_at,omitempty"`
	TotalPaid          int64     `json:"total_paid"`
	InvoiceCount       int       `json:"invoice_count"`
	// LastInvoiceID guards cumulative counters against webhook redelivery.
	LastInvoiceID string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// Plan is the active price configuration used to classify an incoming
// provider price id into a plan type.
type Plan struct {
	ID             string    `json:"id"`
	MonthlyPriceID string    `json:"monthly_price_id"`
	MonthlyAmount  int64     `json:"monthly_amount"`
	YearlyPriceID  string    `json:"yearly_price_id"`
	YearlyAmount   int64     `json:"yearly_amount"`
	Currency       string    `json:"currency"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"` // UTC
}

// ClassifyPrice maps a provider price id to a plan type; unknown ids map to "".
func (p Plan) ClassifyPrice(priceID string) PlanType {
	switch priceID {
	case "":
		return ""
	case p.MonthlyPriceID:
		return PlanMonthly
	case p.YearlyPriceID:
		return PlanYearly
	}
	return ""
}

// UpdatePlan contains the information needed to replace the active Plan.
type UpdatePlan struct {
	MonthlyPriceID string `json:"monthly_price_id" validate:"required"`
	MonthlyAmount  int64  `json:"monthly_amount" validate:"required,gt=0"`
	YearlyPriceID  string `json:"yearly_price_id" validate:"required"`
	YearlyAmount   int64  `json:"yearly_amount" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
}

func (up *UpdatePlan) Validate(validate *validator.Validate) error {
	up.MonthlyPriceID = core.CleanString(up.MonthlyPriceID)
	up.YearlyPriceID = core.CleanString(up.YearlyPriceID)
	up.Currency = core.CleanString(up.Currency, true /* lower */)
	return validate.Struct(up)
}
