package echoapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/notify"
	"github.com/trezcool/chuo/core/user"
)

type (
	// Inbox lists the in-app notifications of a recipient, broadcasts included, latest first.
	Inbox interface {
		List(ctx context.Context, recipient string, limit int) ([]notify.Payload, error)
	}

	// EventSource follows the notifications delivered in-app from now on.
	EventSource func(ctx context.Context) *redis.PubSub
)

type notifyApi struct {
	sink          notify.Sink
	inbox         Inbox
	subscriptions notify.SubscriptionStore
	events        EventSource
	vapidKey      string
	svc           user.ServiceInterface
	validate      *validator.Validate
	logger        core.Logger
}

func registerNotifyAPI(g *echo.Group, jwt, apiKey echo.MiddlewareFunc, api *notifyApi) {
	ng := g.Group("/notifications")

	ng.POST("/send", api.send, apiKey)
	ng.GET("/vapid-key", api.vapidPublicKey)

	ag := ng.Group("", jwt)
	ag.GET("", api.list)
	ag.GET("/stream", api.stream)
	ag.POST("/subscriptions", api.subscribe)
	ag.DELETE("/subscriptions", api.unsubscribe)
}

// send receives the payloads shipped by remote notification sinks & routes them to their channels.
func (api *notifyApi) send(ctx echo.Context) error {
	var p notify.Payload
	if err := bindJSON(ctx, &p); err != nil {
		return err
	}
	if err := api.sink.Send(ctx.Request().Context(), p); err != nil {
		return errors.Wrap(err, "routing notification")
	}
	return ctx.JSON(http.StatusOK, p)
}

// list returns the inbox of the user; admins may read the inbox of any recipient.
func (api *notifyApi) list(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	limit, err := bindLimit(ctx)
	if err != nil {
		return err
	}

	recipient := usr.ID
	if usr.IsAdmin() {
		recipient = ctx.QueryParam("recipient")
	}
	// inboxes are capped; the limit applies once broadcasts reserved to admins are dropped
	payloads, err := api.inbox.List(ctx.Request().Context(), recipient, 0)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}

	visible := make([]notify.Payload, 0, len(payloads))
	for _, p := range payloads {
		if len(visible) == limit {
			break
		}
		if canSee(usr, p) {
			visible = append(visible, p)
		}
	}
	return ctx.JSON(http.StatusOK, visible)
}

// stream pushes the notifications of the user as server-sent events, until the client goes away.
func (api *notifyApi) stream(ctx echo.Context) error {
	if api.events == nil {
		return errHttpNotFound
	}
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	reqCtx := ctx.Request().Context()
	pubsub := api.events(reqCtx)
	defer func() { _ = pubsub.Close() }()
	if _, err = pubsub.Receive(reqCtx); err != nil {
		return errors.Wrap(err, "subscribing to notification events")
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(res, ": connected\n\n")
	res.Flush()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var p notify.Payload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				api.logger.Warn(fmt.Sprintf("decoding notification event: %v", err))
				continue
			}
			if !canSee(usr, p) {
				continue
			}
			if _, err := fmt.Fprintf(res, "id: %s\nevent: notification\ndata: %s\n\n", p.ID, msg.Payload); err != nil {
				return nil
			}
			res.Flush()
		case <-reqCtx.Done():
			return nil
		}
	}
}

func (api *notifyApi) vapidPublicKey(ctx echo.Context) error {
	if api.vapidKey == "" {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, echo.Map{"publicKey": api.vapidKey})
}

func (api *notifyApi) subscribe(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data PushSubscriptionRequest
	if err = bindJSON(ctx, &data); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	sub := notify.Subscription{
		UserID:   usr.ID,
		Endpoint: data.Endpoint,
		P256dh:   data.Keys.P256dh,
		Auth:     data.Keys.Auth,
	}
	if err = api.subscriptions.SaveSubscription(ctx.Request().Context(), sub); err != nil {
		return errors.Wrap(err, "saving push subscription")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *notifyApi) unsubscribe(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	endpoint := ctx.QueryParam("endpoint")
	if endpoint == "" {
		return core.NewFieldError("endpoint", "this field is required")
	}

	// users only drop their own subscriptions
	subs, err := api.subscriptions.ListSubscriptions(ctx.Request().Context(), []string{usr.ID})
	if err != nil {
		return errors.Wrap(err, "listing push subscriptions")
	}
	owned := false
	for _, sub := range subs {
		owned = owned || sub.Endpoint == endpoint
	}
	if !owned {
		return errHttpNotFound
	}

	if err := api.subscriptions.DeleteSubscription(ctx.Request().Context(), endpoint); err != nil {
		return errors.Wrap(err, "deleting push subscription")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// canSee reports whether p is addressed to usr. Payloads without recipients are for admins.
func canSee(usr user.User, p notify.Payload) bool {
	if len(p.Recipients) == 0 {
		return usr.IsAdmin()
	}
	if usr.IsAdmin() {
		return true
	}
	for _, id := range p.Recipients {
		if id == usr.ID {
			return true
		}
	}
	return false
}

// PushSubscriptionRequest is the JSON form of a browser PushSubscription.
type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}
