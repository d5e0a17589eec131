// Package clientctx carries the client context (IP address, user agent, session) of a request
// down to the services that record it, e.g. the audit logger.
package clientctx

import (
	"context"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// UnknownIP is reported when no forwarding header carries the client address.
const UnknownIP = "Unknown"

type Info struct {
	IP        string
	UserAgent string
	SessionID string
}

type contextKey struct{}

// WithInfo returns a copy of ctx carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext returns the Info stored in ctx. Missing values are reported as UnknownIP / empty strings.
func FromContext(ctx context.Context) Info {
	info, ok := ctx.Value(contextKey{}).(Info)
	if !ok {
		return Info{IP: UnknownIP}
	}
	if info.IP == "" {
		info.IP = UnknownIP
	}
	return info
}

// FromRequest extracts the client IP & user agent of r. The session id is set by the session middleware.
func FromRequest(r *http.Request) Info {
	return Info{
		IP:        ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// ClientIP resolves the client address from the proxy headers: the first X-Forwarded-For hop wins,
// then X-Real-IP. It returns UnknownIP when neither is set.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return UnknownIP
}

// Device summarizes the user agent, e.g. for audit metadata. It is empty when there is no user agent.
func (i Info) Device() map[string]interface{} {
	if i.UserAgent == "" {
		return nil
	}
	ua := useragent.New(i.UserAgent)
	browser, version := ua.Browser()
	return map[string]interface{}{
		"browser":        browser,
		"browserVersion": version,
		"os":             ua.OS(),
		"mobile":         ua.Mobile(),
		"bot":            ua.Bot(),
	}
}
