package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "run-ranking"}

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(scopes ...string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":    "operator",
		"iss":    "run-ranking",
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": scopes,
	}
}

func TestParse(t *testing.T) {
	claims, err := Parse(signToken(t, validClaims(ScopeRankingsRead), testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.Equal(t, "operator", claims.Subject)
	require.True(t, claims.HasScope(ScopeRankingsRead))
	require.False(t, claims.HasScope(ScopeSyncRun))

	_, err = Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	_, err = Parse(signToken(t, validClaims(), "other-secret"), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	_, err = Parse(signToken(t, expired, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "someone-else"
	_, err = Parse(signToken(t, wrongIssuer, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseScopesAsString(t *testing.T) {
	claims := validClaims()
	claims["scopes"] = "sync:run  rankings:read"
	parsed, err := Parse(signToken(t, claims, testConfig.Secret), testConfig)
	require.NoError(t, err)
	require.True(t, parsed.HasScope(ScopeSyncRun))
	require.True(t, parsed.HasScope(ScopeRankingsRead))
	require.Len(t, parsed.Scopes, 2)
}

func TestParseRequiresSubject(t *testing.T) {
	claims := validClaims(ScopeSyncRun)
	delete(claims, "sub")
	_, err := Parse(signToken(t, claims, testConfig.Secret), testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareAndRequireScope(t *testing.T) {
	handler := NewMiddleware(testConfig).
		Wrap(RequireScope(ScopeRunnersAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	cases := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"invalid", "/v1/runners/1/active", "not-a-jwt", http.StatusUnauthorized},
		{"missing", "/v1/runners/1/active", "", http.StatusUnauthorized},
		{"wrong scope", "/v1/runners/1/active", signToken(t, validClaims(ScopeRankingsRead), testConfig.Secret), http.StatusForbidden},
		{"ok", "/v1/runners/1/active", signToken(t, validClaims(ScopeRunnersAdmin), testConfig.Secret), http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestTriggerAuthorizer(t *testing.T) {
	authorizer := NewTriggerAuthorizer("cron-secret", testConfig)

	request := func(header string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/sync", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return req
	}

	require.True(t, authorizer.Authorize(request("Bearer cron-secret")))
	require.True(t, authorizer.Authorize(request("bearer cron-secret")))
	require.False(t, authorizer.Authorize(request("Bearer cron-secreT")))
	require.False(t, authorizer.Authorize(request("")))
	require.False(t, authorizer.Authorize(request("cron-secret")))
	require.True(t, authorizer.Authorize(request("Bearer "+signToken(t, validClaims(ScopeSyncRun), testConfig.Secret))))
	require.False(t, authorizer.Authorize(request("Bearer "+signToken(t, validClaims(ScopeRankingsRead), testConfig.Secret))))

	disabled := NewTriggerAuthorizer("", testConfig)
	require.False(t, disabled.Authorize(request("Bearer ")))
}
