package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
	"github.com/vibast-solutions/ms-go-payment-retries/app/factory"
	"github.com/vibast-solutions/ms-go-payment-retries/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

// EventController manages webhook subscriptions and exposes the event journal.
type EventController struct {
	bus     *eventbus.Bus
	webhook eventbus.WebhookConfig
	logger  logrus.FieldLogger
}

// NewEventController takes the webhook transport settings shared by every subscription
// created over HTTP; URL, secret and API key come from each request.
func NewEventController(bus *eventbus.Bus, webhook eventbus.WebhookConfig) *EventController {
	return &EventController{
		bus:     bus,
		webhook: webhook,
		logger:  factory.NewModuleLogger("event-controller"),
	}
}

func (c *EventController) Subscribe(ctx echo.Context) error {
	req, err := types.NewCreateSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	webhook := c.webhook
	webhook.URL = req.GetUrl()
	webhook.Secret = req.Secret
	webhook.APIKey = req.ApiKey

	sub, err := c.bus.Subscribe(eventbus.SubscriptionSpec{
		ID:       req.GetId(),
		Name:     req.Name,
		TenantID: req.TenantId,
		EventTypes: lo.Map(req.GetEventTypes(), func(item string, _ int) entity.EventType {
			return entity.EventType(item)
		}),
		Sink: eventbus.NewWebhookSink(webhook, c.logger),
	})
	if err != nil {
		switch {
		case errors.Is(err, eventbus.ErrInvalidSubscription):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, eventbus.ErrSubscriptionExists):
			return writeError(ctx, http.StatusConflict, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create subscription failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.SubscriptionResponse{Subscription: mapper.SubscriptionToView(sub.Info())})
}

func (c *EventController) Unsubscribe(ctx echo.Context) error {
	req, err := types.NewSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	if err := c.bus.Unsubscribe(req.GetId()); err != nil {
		if errors.Is(err, eventbus.ErrSubscriptionNotFound) {
			return writeError(ctx, http.StatusNotFound, "subscription not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Remove subscription failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Subscription removed"})
}

func (c *EventController) ListSubscriptions(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.ListSubscriptionsResponse{Subscriptions: mapper.SubscriptionsToView(c.bus.Subscriptions())})
}

func (c *EventController) Deliveries(ctx echo.Context) error {
	req, err := types.NewSubscriptionRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}
	if _, ok := c.bus.Subscription(req.GetId()); !ok {
		return writeError(ctx, http.StatusNotFound, "subscription not found")
	}

	return ctx.JSON(http.StatusOK, &types.ListDeliveriesResponse{Deliveries: mapper.DeliveriesToView(c.bus.Deliveries(req.GetId()))})
}

// Events replays the journal after the given sequence number.
func (c *EventController) Events(ctx echo.Context) error {
	req, err := types.NewListEventsRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.bus.Since(ctx.Request().Context(), req.GetSince(), req.GetLimit())
	if err != nil {
		if errors.Is(err, eventbus.ErrJournalTruncated) {
			return writeError(ctx, http.StatusGone, err.Error())
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List events failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListEventsResponse{Events: mapper.EventsToView(items)})
}
