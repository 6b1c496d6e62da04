package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"

	"github.com/josh-code/enlight/core"
)

// Handled provider event types.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoiceFailed       = "invoice.payment_failed"
)

// HandleEvent dispatches by exact match on the event type. Errors (and
// panics) inside a handler are logged and swallowed: the webhook endpoint
// always acknowledges so the provider does not redeliver an already-applied
// side effect.
func (svc *service) HandleEvent(ctx context.Context, event stripe.Event) {
	defer func() {
		if r := recover(); r != nil {
			svc.logger.Error(fmt.Sprintf("webhook handler panic on %s (%s): %v", event.Type, event.ID, r))
		}
	}()

	var err error
	switch string(event.Type) {
	case EventCheckoutCompleted:
		err = svc.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		err = svc.handleSubscriptionChanged(ctx, event)
	case EventSubscriptionDeleted:
		err = svc.handleSubscriptionDeleted(ctx, event)
	case EventInvoicePaid:
		err = svc.handleInvoicePaid(ctx, event)
	case EventInvoiceFailed:
		err = svc.handleInvoiceFailed(ctx, event)
	default:
		svc.logger.Debug(fmt.Sprintf("ignoring webhook event type %s", event.Type))
		return
	}
	if err != nil {
		svc.logger.Error(fmt.Sprintf("webhook handler failed on %s (%s): %v", event.Type, event.ID, err), err)
	}
}

func (svc *service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return errors.Wrap(err, "unmarshalling checkout session")
	}
	if sess.Subscription == nil {
		svc.logger.Warn(fmt.Sprintf("checkout session %s completed without a subscription; skipping", sess.ID))
		return nil
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata["user_id"]
	}

	now := time.Now().UTC()
	sub, err := svc.repo.GetSubscriptionByStripeID(ctx, sess.Subscription.ID)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return errors.Wrap(err, "finding subscription")
		}
		sub = Subscription{
			ID:        uuid.New().String(),
			StripeID:  sess.Subscription.ID,
			Status:    StatusActive,
			CreatedAt: now,
		}
	}
	if userID != "" {
		sub.UserID = userID
	}
	if sess.Customer != nil {
		sub.CustomerID = sess.Customer.ID
	}
	// the basic checkout payload carries no price id; the
	// customer.subscription.created event that follows backfills
	// PriceID and the plan classification.
	if sess.AmountTotal > 0 {
		sub.Amount = sess.AmountTotal
	}
	if sess.Currency != "" {
		sub.Currency = string(sess.Currency)
	}
	sub.UpdatedAt = now

	if sub, err = svc.repo.UpsertSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "upserting subscription")
	}

	svc.notify(ctx, core.Notification{
		UserID: sub.UserID,
		Kind:   "subscription_started",
		Title:  "Subscription started",
		Body:   "Welcome aboard! Your subscription is now active.",
		Data:   map[string]interface{}{"subscription_id": sub.ID},
	})
	return nil
}

func (svc *service) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return errors.Wrap(err, "unmarshalling subscription")
	}

	now := time.Now().UTC()
	sub, err := svc.repo.GetSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return errors.Wrap(err, "finding subscription")
		}
		userID := stripeSub.Metadata["user_id"]
		if userID == "" {
			svc.logger.Warn(fmt.Sprintf("no local record for subscription %s and no user reference; skipping", stripeSub.ID))
			return nil
		}
		sub = Subscription{
			ID:        uuid.New().String(),
			UserID:    userID,
			StripeID:  stripeSub.ID,
			CreatedAt: now,
		}
	}

	applyStripeSubscription(&sub, &stripeSub)
	sub.Plan = svc.classifyPlan(ctx, sub.PriceID)
	sub.UpdatedAt = now

	if sub, err = svc.repo.UpsertSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "upserting subscription")
	}

	svc.notify(ctx, core.Notification{
		UserID: sub.UserID,
		Kind:   "subscription_updated",
		Title:  "Subscription updated",
		Body:   fmt.Sprintf("Your subscription is now %s.", sub.Status),
		Data:   map[string]interface{}{"subscription_id": sub.ID, "status": string(sub.Status)},
	})
	return nil
}

func (svc *service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return errors.Wrap(err, "unmarshalling subscription")
	}

	sub, err := svc.repo.GetSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			svc.logger.Warn(fmt.Sprintf("delete event for unknown subscription %s; skipping", stripeSub.ID))
			return nil
		}
		return errors.Wrap(err, "finding subscription")
	}

	now := time.Now().UTC()
	sub.Status = StatusCanceled
	if stripeSub.CanceledAt > 0 {
		sub.CanceledAt = time.Unix(stripeSub.CanceledAt, 0).UTC()
	} else {
		sub.CanceledAt = now
	}
	sub.UpdatedAt = now

	if sub, err = svc.repo.UpsertSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "upserting subscription")
	}

	svc.notify(ctx, core.Notification{
		UserID: sub.UserID,
		Kind:   "subscription_canceled",
		Title:  "Subscription canceled",
		Body:   "Your subscription has been canceled. We're sorry to see you go.",
		Data:   map[string]interface{}{"subscription_id": sub.ID},
	})
	return nil
}

func (svc *service) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return errors.Wrap(err, "unmarshalling invoice")
	}
	if inv.Subscription == nil {
		svc.logger.Warn(fmt.Sprintf("invoice %s paid without a subscription; skipping", inv.ID))
		return nil
	}

	sub, err := svc.repo.GetSubscriptionByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			svc.logger.Warn(fmt.Sprintf("paid invoice %s for unknown subscription %s; skipping", inv.ID, inv.Subscription.ID))
			return nil
		}
		return errors.Wrap(err, "finding subscription")
	}
	if sub.LastInvoiceID == inv.ID {
		svc.logger.Debug(fmt.Sprintf("invoice %s already applied to subscription %s; skipping", inv.ID, sub.ID))
		return nil
	}

	sub.TotalPaid += inv.AmountPaid
	sub.InvoiceCount++
	sub.LastInvoiceID = inv.ID
	sub.Status = StatusActive
	sub.UpdatedAt = time.Now().UTC()

	if sub, err = svc.repo.UpsertSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "upserting subscription")
	}

	svc.notify(ctx, core.Notification{
		UserID: sub.UserID,
		Kind:   "invoice_paid",
		Title:  "Payment received",
		Body:   fmt.Sprintf("We received your payment of %d %s.", inv.AmountPaid, inv.Currency),
		Data:   map[string]interface{}{"subscription_id": sub.ID, "invoice_id": inv.ID},
	})
	svc.sendReceipt(inv)
	return nil
}

func (svc *service) handleInvoiceFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return errors.Wrap(err, "unmarshalling invoice")
	}
	if inv.Subscription == nil {
		svc.logger.Warn(fmt.Sprintf("invoice %s failed without a subscription; skipping", inv.ID))
		return nil
	}

	sub, err := svc.repo.GetSubscriptionByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			svc.logger.Warn(fmt.Sprintf("failed invoice %s for unknown subscription %s; skipping", inv.ID, inv.Subscription.ID))
			return nil
		}
		return errors.Wrap(err, "finding subscription")
	}

	sub.Status = StatusPastDue
	sub.UpdatedAt = time.Now().UTC()

	if sub, err = svc.repo.UpsertSubscription(ctx, sub); err != nil {
		return errors.Wrap(err, "upserting subscription")
	}

	svc.notify(ctx, core.Notification{
		UserID: sub.UserID,
		Kind:   "payment_failed",
		Title:  "Payment failed",
		Body:   "We could not process your latest payment. Please update your payment method.",
		Data:   map[string]interface{}{"subscription_id": sub.ID, "invoice_id": inv.ID},
	})
	return nil
}

// sendReceipt emails a best-effort payment receipt; the mail service already
// sends asynchronously and never blocks the webhook response.
func (svc *service) sendReceipt(inv stripe.Invoice) {
	if svc.mailSvc == nil || inv.CustomerEmail == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:      []mail.Address{{Name: inv.CustomerName, Address: inv.CustomerEmail}},
		Subject: "Payment receipt",
		TextContent: fmt.Sprintf(
			"Thank you for your payment of %d %s.\nInvoice: %s\n", inv.AmountPaid, inv.Currency, inv.Number),
	})
}

// applyStripeSubscription copies status, price, period and cancellation
// fields verbatim from the provider payload.
func applyStripeSubscription(sub *Subscription, stripeSub *stripe.Subscription) {
	sub.Status = Status(stripeSub.Status)
	if stripeSub.Customer != nil {
		sub.CustomerID = stripeSub.Customer.ID
	}
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 {
		if price := stripeSub.Items.Data[0].Price; price != nil {
			sub.PriceID = price.ID
			sub.Amount = price.UnitAmount
			sub.Currency = string(price.Currency)
		}
	}
	if stripeSub.CurrentPeriodStart > 0 {
		sub.CurrentPeriodStart = time.Unix(stripeSub.CurrentPeriodStart, 0).UTC()
	}
	if stripeSub.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(stripeSub.CurrentPeriodEnd, 0).UTC()
	}
	sub.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	if stripeSub.CanceledAt > 0 {
		sub.CanceledAt = time.Unix(stripeSub.CanceledAt, 0).UTC()
	} else {
		sub.CanceledAt = time.Time{}
	}
}
