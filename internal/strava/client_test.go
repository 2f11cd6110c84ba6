package strava

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler, pageSize, maxPages int) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      server.URL + "/api/v3",
		TokenURL:     server.URL + "/oauth/token",
		AuthorizeURL: server.URL + "/oauth/authorize",
		RedirectURL:  "http://localhost/callback",
		PageSize:     pageSize,
		MaxPages:     maxPages,
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)
	return client
}

func activityJSON(id int64, kind string) map[string]any {
	return map[string]any{
		"id":          id,
		"distance":    5000.5,
		"moving_time": 1500,
		"type":        kind,
		"start_date":  "2024-03-01T07:00:00Z",
		"athlete":     map[string]any{"id": 7},
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://x", TokenURL: "http://x"})
	require.Error(t, err)
}

func TestExchangeCodeForToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, "client-id", r.PostForm.Get("client_id"))
		require.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "access",
			"refresh_token": "refresh",
			"expires_at":    1700000000,
			"expires_in":    21600,
			"athlete": map[string]any{
				"id": 7, "firstname": "Ana", "lastname": "Lima", "profile": "https://img/ana.png",
			},
		})
	})
	client := newTestClient(t, mux, 200, 5)

	auth, err := client.ExchangeCodeForToken(context.Background(), "the-code")
	require.NoError(t, err)
	require.Equal(t, domain.Credential{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: 1700000000}, auth.Credential)
	require.Equal(t, int64(7), auth.Athlete.ID)
	require.Equal(t, "Ana Lima", auth.Athlete.DisplayName())
}

func TestExchangeCodeForTokenRejectedCarriesBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Bad Request","errors":[{"field":"code","code":"invalid"}]}`))
	})
	client := newTestClient(t, mux, 200, 5)

	_, err := client.ExchangeCodeForToken(context.Background(), "bad")
	require.ErrorIs(t, err, domain.ErrUpstreamAuth)

	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	require.Contains(t, upstream.Body, "invalid")
}

func TestRefreshTokenMalformedResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"a","expires_at":"soon"}`))
	})
	client := newTestClient(t, mux, 200, 5)

	_, err := client.RefreshToken(context.Background(), "refresh")
	require.ErrorIs(t, err, domain.ErrMalformedUpstreamResponse)
}

func TestRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"new-access","refresh_token":"new-refresh","expires_at":1800000000,"expires_in":21600}`))
	})
	client := newTestClient(t, mux, 200, 5)

	cred, err := client.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	require.Equal(t, domain.Credential{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: 1800000000}, cred)
}

func TestListActivitiesFollowsPages(t *testing.T) {
	after := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, strconv.FormatInt(after.Unix(), 10), r.URL.Query().Get("after"))
		require.Equal(t, "2", r.URL.Query().Get("per_page"))

		var items []map[string]any
		switch r.URL.Query().Get("page") {
		case "1":
			items = []map[string]any{activityJSON(1, "Run"), activityJSON(2, "Ride")}
		case "2":
			items = []map[string]any{activityJSON(3, "Run")}
		default:
			http.Error(w, "unexpected page", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(items)
	})
	client := newTestClient(t, mux, 2, 5)

	listing, err := client.ListActivities(context.Background(), "token-1", after)
	require.NoError(t, err)
	require.False(t, listing.Truncated)
	require.Len(t, listing.Activities, 3)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, int64(7), listing.Activities[0].RunnerID)
	require.Equal(t, time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC), listing.Activities[0].StartDate)
}

func TestListActivitiesMarksTruncation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		_ = json.NewEncoder(w).Encode([]map[string]any{activityJSON(int64(page), "Run")})
	})
	client := newTestClient(t, mux, 1, 3)

	listing, err := client.ListActivities(context.Background(), "token", time.Unix(0, 0))
	require.NoError(t, err)
	require.True(t, listing.Truncated)
	require.Len(t, listing.Activities, 3)
}

func TestListActivitiesUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Rate Limit Exceeded"}`, http.StatusTooManyRequests)
	})
	client := newTestClient(t, mux, 200, 5)

	_, err := client.ListActivities(context.Background(), "token", time.Unix(0, 0))
	require.ErrorIs(t, err, domain.ErrUpstreamFetch)
}

func TestListActivitiesRejectsInvalidItems(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/athlete/activities", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"distance":100,"moving_time":30,"type":"Run","start_date":"yesterday"}]`))
	})
	client := newTestClient(t, mux, 200, 5)

	_, err := client.ListActivities(context.Background(), "token", time.Unix(0, 0))
	require.ErrorIs(t, err, domain.ErrMalformedUpstreamResponse)
}

func TestFetchActivity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/activities/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/activities/42":
			_ = json.NewEncoder(w).Encode(activityJSON(42, "Run"))
		case "/api/v3/activities/43":
			http.Error(w, `{"message":"Record Not Found"}`, http.StatusNotFound)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	client := newTestClient(t, mux, 200, 5)

	activity, err := client.FetchActivity(context.Background(), "token", 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), activity.ID)
	require.True(t, activity.IsRun())

	_, err = client.FetchActivity(context.Background(), "token", 43)
	require.ErrorIs(t, err, domain.ErrActivityNotFound)

	_, err = client.FetchActivity(context.Background(), "token", 44)
	require.ErrorIs(t, err, domain.ErrUpstreamFetch)
	require.NotErrorIs(t, err, domain.ErrActivityNotFound)
}

func TestAuthorizeURL(t *testing.T) {
	client := newTestClient(t, http.NewServeMux(), 200, 5)

	raw := client.AuthorizeURL("state-1")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	query := parsed.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, DefaultScope, query.Get("scope"))
	require.Equal(t, "force", query.Get("approval_prompt"))
	require.Equal(t, "state-1", query.Get("state"))
	require.Equal(t, "/oauth/authorize", parsed.Path)
}
