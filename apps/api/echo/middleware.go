package echoapi

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/clientctx"
)

const sessionIDKey = "sid"

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// clientContextMiddleware attaches the client info (IP, user agent, session id) to the request context.
// A session cookie is issued to clients that do not have one yet.
func clientContextMiddleware(store sessions.Store, sessionName string, logger core.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req, res := ctx.Request(), ctx.Response()
			info := clientctx.FromRequest(req)

			// a tampered or expired cookie yields a new session
			session, err := store.Get(req, sessionName)
			if session != nil {
				sid, _ := session.Values[sessionIDKey].(string)
				if sid == "" {
					sid = uuid.NewString()
					session.Values[sessionIDKey] = sid
					if err = session.Save(req, res); err != nil {
						logger.Warn(fmt.Sprintf("saving session: %v", err))
					}
				}
				info.SessionID = sid
			} else if err != nil {
				logger.Warn(fmt.Sprintf("loading session: %v", err))
			}

			ctx.SetRequest(req.WithContext(clientctx.WithInfo(req.Context(), info)))
			return next(ctx)
		}
	}
}

// apiKeyMiddleware guards the endpoints receiving audit entries & notifications from remote sinks.
// An empty key disables the check.
func apiKeyMiddleware(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if key == "" {
				return next(ctx)
			}
			got := strings.TrimPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return errInvalidAPIKey
			}
			return next(ctx)
		}
	}
}
