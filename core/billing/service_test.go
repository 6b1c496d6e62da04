package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/billing"
	emailsvc "github.com/josh-code/enlight/services/email"
	logsvc "github.com/josh-code/enlight/services/logger"
	notifysvc "github.com/josh-code/enlight/services/notifier"
	dummydb "github.com/josh-code/enlight/storage/database/dummy"
)

type testBilling struct {
	svc      billing.ServiceInterface
	repo     billing.Repository
	notifier interface{ Sent() []core.Notification }
}

func newTestBilling(t *testing.T) testBilling {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)

	conf := &core.Config{TestMode: true}
	repo := dummydb.NewBillingRepository(db)
	notifier := notifysvc.NewConsoleNotifierMock()
	svc := billing.NewService(repo, logsvc.NewNopLogger(), notifier, emailsvc.NewConsoleServiceMock(conf), conf)
	return testBilling{svc: svc, repo: repo, notifier: notifier}
}

func event(typ, id string, payload interface{}) stripe.Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(typ),
		Data: &stripe.EventData{Raw: raw},
	}
}

func checkoutPayload(subID, userID string) map[string]interface{} {
	return map[string]interface{}{
		"id":                  "cs_123",
		"client_reference_id": userID,
		"subscription":        map[string]interface{}{"id": subID},
		"customer":            map[string]interface{}{"id": "cus_123"},
		"amount_total":        1999,
		"currency":            "usd",
	}
}

func subscriptionPayload(subID, status, priceID string) map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"id":       subID,
		"status":   status,
		"customer": map[string]interface{}{"id": "cus_123"},
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]interface{}{"id": priceID, "unit_amount": 1999, "currency": "usd"}},
			},
		},
		"current_period_start": now.Unix(),
		"current_period_end":   now.AddDate(0, 1, 0).Unix(),
		"cancel_at_period_end": false,
		"metadata":             map[string]string{"user_id": "usr-1"},
	}
}

func invoicePayload(invID, subID string, amountPaid int64) map[string]interface{} {
	return map[string]interface{}{
		"id":             invID,
		"subscription":   map[string]interface{}{"id": subID},
		"amount_paid":    amountPaid,
		"currency":       "usd",
		"customer_email": "jane@test.com",
		"customer_name":  "Jane Doe",
		"number":         "INV-0001",
	}
}

func TestHandleEventCheckoutCompleted(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))

	sub, err := tb.svc.ActiveForUser(ctx, "usr-1")
	require.NoError(t, err)
	assert.Equal(t, "sub_123", sub.StripeID)
	assert.Equal(t, "cus_123", sub.CustomerID)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.EqualValues(t, 1999, sub.Amount)
	assert.Equal(t, "usd", sub.Currency)

	sent := tb.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "subscription_started", sent[0].Kind)
	assert.Equal(t, "usr-1", sent[0].UserID)
}

func TestHandleEventCheckoutCompletedIdempotent(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)
	evt := event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1"))

	tb.svc.HandleEvent(ctx, evt)
	first, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)

	// redelivery converges to the same record
	tb.svc.HandleEvent(ctx, evt)
	second, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.EqualValues(t, 0, second.TotalPaid)
	assert.Equal(t, 0, second.InvoiceCount)
}

func TestHandleEventCheckoutThenSubscriptionCreatedBackfillsPlan(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	_, err := tb.svc.SavePlan(ctx, billing.UpdatePlan{
		MonthlyPriceID: "price_m",
		MonthlyAmount:  1999,
		YearlyPriceID:  "price_y",
		YearlyAmount:   19990,
		Currency:       "usd",
	})
	require.NoError(t, err)

	// the checkout payload carries no price id
	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))
	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Empty(t, sub.PriceID)
	assert.Empty(t, string(sub.Plan))

	// the trailing subscription.created event backfills price and plan on
	// the record the checkout opened
	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionCreated, "evt_2", subscriptionPayload("sub_123", "active", "price_m")))
	backfilled, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, backfilled.ID)
	assert.Equal(t, "usr-1", backfilled.UserID)
	assert.Equal(t, "price_m", backfilled.PriceID)
	assert.Equal(t, billing.PlanMonthly, backfilled.Plan)
}

func TestHandleEventSubscriptionUpdated(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	_, err := tb.svc.SavePlan(ctx, billing.UpdatePlan{
		MonthlyPriceID: "price_m",
		MonthlyAmount:  1999,
		YearlyPriceID:  "price_y",
		YearlyAmount:   19990,
		Currency:       "usd",
	})
	require.NoError(t, err)

	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))
	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionUpdated, "evt_2", subscriptionPayload("sub_123", "trialing", "price_m")))

	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusTrialing, sub.Status)
	assert.Equal(t, "price_m", sub.PriceID)
	assert.Equal(t, billing.PlanMonthly, sub.Plan)
	assert.False(t, sub.CurrentPeriodEnd.IsZero())

	// trialing still grants access
	_, err = tb.svc.ActiveForUser(ctx, "usr-1")
	require.NoError(t, err)
}

func TestHandleEventSubscriptionCreatedFromMetadata(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	// no prior checkout record; user reference comes from metadata
	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionCreated, "evt_1", subscriptionPayload("sub_456", "active", "price_m")))

	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_456")
	require.NoError(t, err)
	assert.Equal(t, "usr-1", sub.UserID)
	assert.Equal(t, billing.StatusActive, sub.Status)
}

func TestHandleEventSubscriptionUpdatedUnknownNoUserRef(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	payload := subscriptionPayload("sub_789", "active", "price_m")
	delete(payload, "metadata")
	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionUpdated, "evt_1", payload))

	_, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_789")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.Empty(t, tb.notifier.Sent())
}

func TestHandleEventSubscriptionDeleted(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))
	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionDeleted, "evt_2", map[string]interface{}{
		"id":          "sub_123",
		"status":      "canceled",
		"canceled_at": time.Now().UTC().Unix(),
	}))

	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, sub.Status)
	assert.False(t, sub.CanceledAt.IsZero())

	_, err = tb.svc.ActiveForUser(ctx, "usr-1")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestHandleEventSubscriptionDeletedUnknown(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event(billing.EventSubscriptionDeleted, "evt_1", map[string]interface{}{"id": "sub_unknown"}))

	_, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_unknown")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestHandleEventInvoicePaid(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))
	tb.svc.HandleEvent(ctx, event(billing.EventInvoicePaid, "evt_2", invoicePayload("in_1", "sub_123", 1999)))

	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.EqualValues(t, 1999, sub.TotalPaid)
	assert.Equal(t, 1, sub.InvoiceCount)
	assert.Equal(t, billing.StatusActive, sub.Status)

	// redelivery of the same invoice does not double-count
	tb.svc.HandleEvent(ctx, event(billing.EventInvoicePaid, "evt_3", invoicePayload("in_1", "sub_123", 1999)))
	sub, err = tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.EqualValues(t, 1999, sub.TotalPaid)
	assert.Equal(t, 1, sub.InvoiceCount)

	// a new invoice accumulates
	tb.svc.HandleEvent(ctx, event(billing.EventInvoicePaid, "evt_4", invoicePayload("in_2", "sub_123", 1999)))
	sub, err = tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.EqualValues(t, 3998, sub.TotalPaid)
	assert.Equal(t, 2, sub.InvoiceCount)
}

func TestHandleEventInvoicePaymentFailed(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event(billing.EventCheckoutCompleted, "evt_1", checkoutPayload("sub_123", "usr-1")))
	tb.svc.HandleEvent(ctx, event(billing.EventInvoiceFailed, "evt_2", invoicePayload("in_1", "sub_123", 0)))

	sub, err := tb.repo.GetSubscriptionByStripeID(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, sub.Status)

	// past_due does not grant access
	_, err = tb.svc.ActiveForUser(ctx, "usr-1")
	assert.ErrorIs(t, err, billing.ErrNotFound)

	sent := tb.notifier.Sent()
	require.NotEmpty(t, sent)
	assert.Equal(t, "payment_failed", sent[len(sent)-1].Kind)
}

func TestHandleEventUnknownTypeIgnored(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	tb.svc.HandleEvent(ctx, event("customer.created", "evt_1", map[string]interface{}{"id": "cus_123"}))
	assert.Empty(t, tb.notifier.Sent())
}

func TestHandleEventMalformedPayloadSwallowed(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	evt := stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(billing.EventInvoicePaid),
		Data: &stripe.EventData{Raw: json.RawMessage(`{"subscription": 42}`)},
	}
	// must not panic nor surface an error
	tb.svc.HandleEvent(ctx, evt)
	assert.Empty(t, tb.notifier.Sent())
}

func TestSavePlanReplacesActivePlan(t *testing.T) {
	ctx := context.Background()
	tb := newTestBilling(t)

	plan, err := tb.svc.SavePlan(ctx, billing.UpdatePlan{
		MonthlyPriceID: "price_m",
		MonthlyAmount:  1999,
		YearlyPriceID:  "price_y",
		YearlyAmount:   19990,
		Currency:       "usd",
	})
	require.NoError(t, err)
	require.True(t, plan.IsActive)

	updated, err := tb.svc.SavePlan(ctx, billing.UpdatePlan{
		MonthlyPriceID: "price_m2",
		MonthlyAmount:  2499,
		YearlyPriceID:  "price_y2",
		YearlyAmount:   24990,
		Currency:       "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, plan.ID, updated.ID)
	assert.Equal(t, "price_m2", updated.MonthlyPriceID)

	active, err := tb.svc.ActivePlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "price_m2", active.MonthlyPriceID)
	assert.Equal(t, billing.PlanYearly, active.ClassifyPrice("price_y2"))
	assert.Equal(t, billing.PlanType(""), active.ClassifyPrice("price_m"))
}

func TestStatusGrantsAccess(t *testing.T) {
	tests := []struct {
		status billing.Status
		want   bool
	}{
		{billing.StatusActive, true},
		{billing.StatusTrialing, true},
		{billing.StatusPastDue, false},
		{billing.StatusCanceled, false},
		{billing.StatusIncomplete, false},
		{billing.StatusIncompleteExpired, false},
		{billing.StatusUnpaid, false},
		{billing.StatusPaused, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.GrantsAccess(), fmt.Sprintf("status %s", tt.status))
		})
	}
}
