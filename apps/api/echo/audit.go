package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/audit"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type auditApi struct {
	store audit.Store
}

func registerAuditAPI(g *echo.Group, jwt, apiKey echo.MiddlewareFunc, store audit.Store) {
	api := auditApi{store: store}

	g.POST("/audit/log", api.log, apiKey)
	g.GET("/audit/logs", api.list, jwt, adminMiddleware())
}

// log receives the entries shipped by remote audit sinks.
func (api *auditApi) log(ctx echo.Context) error {
	var entry audit.Entry
	if err := bindJSON(ctx, &entry); err != nil {
		return err
	}
	if entry.Action == "" {
		return core.NewFieldError("action", "this field is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := api.store.Append(ctx.Request().Context(), entry); err != nil {
		return errors.Wrap(err, "appending audit entry")
	}
	return ctx.JSON(http.StatusCreated, LogResponse{Success: true, LogID: entry.ID})
}

func (api *auditApi) list(ctx echo.Context) error {
	limit, err := bindLimit(ctx)
	if err != nil {
		return err
	}

	var entries []audit.Entry
	if target := ctx.QueryParam("target"); target != "" {
		entries, err = api.store.ListByTarget(ctx.Request().Context(), target, limit)
	} else {
		entries, err = api.store.ListRecent(ctx.Request().Context(), limit)
	}
	if err != nil {
		return errors.Wrap(err, "listing audit entries")
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// bindLimit reads the `limit` query param, capped to maxListLimit.
func bindLimit(ctx echo.Context) (int, error) {
	val := ctx.QueryParam("limit")
	if val == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit < 1 {
		return 0, core.NewFieldError("limit", "enter a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

type LogResponse struct {
	Success bool   `json:"success"`
	LogID   string `json:"logId"`
}
