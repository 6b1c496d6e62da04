package echoapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/josh-code/enlight/core"
	"github.com/josh-code/enlight/core/billing"
)

type billingApi struct {
	conf     *core.Config
	svc      billing.ServiceInterface
	validate *validator.Validate
}

func registerBillingAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	conf *core.Config,
	svc billing.ServiceInterface,
	validate *validator.Validate,
) {
	api := billingApi{
		conf:     conf,
		svc:      svc,
		validate: validate,
	}

	g.GET("/subscriptions/me", api.mySubscription, jwt)

	bg := g.Group("/billing")
	bg.GET("/plan", api.retrievePlan, jwt, adminMiddleware())
	bg.PUT("/plan", api.updatePlan, jwt, adminMiddleware())

	// authenticated by payload signature, not JWT
	bg.POST("/webhook", api.handleWebhook)
}

// Handlers

func (api *billingApi) mySubscription(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sub, err := api.svc.ForUser(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == billing.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding subscription")
	}
	return respond(ctx, http.StatusOK, sub)
}

func (api *billingApi) retrievePlan(ctx echo.Context) error {
	plan, err := api.svc.ActivePlan(ctx.Request().Context())
	if err != nil {
		if errors.Cause(err) == billing.ErrPlanNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding active plan")
	}
	return respond(ctx, http.StatusOK, plan)
}

func (api *billingApi) updatePlan(ctx echo.Context) error {
	var data billing.UpdatePlan
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdatePlan")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	plan, err := api.svc.SavePlan(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "saving plan")
	}
	return respond(ctx, http.StatusOK, plan)
}

// handleWebhook ingests provider events. Unknown event types and handler
// failures still acknowledge with a 200 so the provider does not retry
// endlessly; only unreadable or badly signed payloads are rejected.
func (api *billingApi) handleWebhook(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read payload")
	}

	var event stripe.Event
	if secret := api.conf.Stripe.WebhookSecret; secret != "" {
		event, err = webhook.ConstructEvent(payload, ctx.Request().Header.Get("Stripe-Signature"), secret)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
		}
	} else if err = json.Unmarshal(payload, &event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	api.svc.HandleEvent(ctx.Request().Context(), event)
	return respondMessage(ctx, http.StatusOK, "received")
}
