package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// AllowedOrigins holds the parsed set of allowed origins for CORS and
// websocket checks. A wildcard allows every origin.
type AllowedOrigins struct {
	any     bool
	origins map[string]struct{}
}

// AllowAll returns an allowlist that accepts every origin.
func AllowAll() *AllowedOrigins {
	return &AllowedOrigins{any: true, origins: map[string]struct{}{}}
}

// IsAllowed checks if the given origin is in the allowlist. An empty
// origin (non-browser clients) is always allowed.
func (ao *AllowedOrigins) IsAllowed(origin string) bool {
	if origin == "" || ao.any {
		return true
	}
	_, ok := ao.origins[origin]
	return ok
}

// ParseAllowedOrigins parses a comma-separated list of origins. "*" (or an
// empty list) allows everything. Each other entry must be scheme://host[:port].
func ParseAllowedOrigins(originsStr string) (*AllowedOrigins, error) {
	ao := &AllowedOrigins{origins: make(map[string]struct{})}
	if strings.TrimSpace(originsStr) == "" {
		ao.any = true
		return ao, nil
	}

	for _, origin := range strings.Split(originsStr, ",") {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
			continue
		case "*":
			ao.any = true
			continue
		}

		parsed, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("invalid origin %q: must have scheme and host", origin)
		}
		if parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
			return nil, fmt.Errorf("invalid origin %q: must not have path, query or fragment", origin)
		}
		ao.origins[parsed.Scheme+"://"+parsed.Host] = struct{}{}
	}
	return ao, nil
}

// CORSMiddleware enforces the allowlist and sets CORS headers.
func CORSMiddleware(allowed *AllowedOrigins, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !allowed.IsAllowed(origin) {
				writeJSONError(w, http.StatusForbidden, "Origin not allowed")
				return
			}
			if allowed.any {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CheckWebSocketOrigin returns a function suitable for
// websocket.Upgrader.CheckOrigin.
func (ao *AllowedOrigins) CheckWebSocketOrigin() func(r *http.Request) bool {
	return func(r *http.Request) bool {
		return ao.IsAllowed(r.Header.Get("Origin"))
	}
}
