package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Middleware provides HTTP middleware for bearer-token validation.
type Middleware struct {
	Config Config
}

// NewMiddleware constructs a middleware verifying tokens against cfg.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{Config: cfg}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := Parse(bearerToken(r), m.Config)
		if err != nil {
			writeUnauthorized(w, err.Error())
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects requests whose claims lack scope. It must run after Wrap.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := FromContext(r.Context())
			if !ok {
				writeUnauthorized(w, ErrMissingToken.Error())
				return
			}
			if !claims.HasScope(scope) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"type": "forbidden", "detail": "scope " + scope + " required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TriggerAuthorizer admits the scheduled sync trigger. A request passes when its bearer
// token equals the shared secret, or when it is a valid JWT carrying ScopeSyncRun.
type TriggerAuthorizer struct {
	secret string
	jwt    Config
}

// NewTriggerAuthorizer constructs a TriggerAuthorizer. An empty secret disables the
// shared-secret path.
func NewTriggerAuthorizer(secret string, cfg Config) TriggerAuthorizer {
	return TriggerAuthorizer{secret: secret, jwt: cfg}
}

// Authorize reports whether the request may trigger a sync.
func (a TriggerAuthorizer) Authorize(r *http.Request) bool {
	token := bearerToken(r)
	if token == "" {
		return false
	}
	if a.secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1 {
		return true
	}
	claims, err := Parse(token, a.jwt)
	if err != nil {
		return false
	}
	return claims.HasScope(ScopeSyncRun)
}

// Wrap rejects unauthorized trigger requests with 401.
func (a TriggerAuthorizer) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Authorize(r) {
			writeUnauthorized(w, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

func writeUnauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": detail})
}
