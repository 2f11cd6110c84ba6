// Package strava talks to the Strava OAuth and activities API.
package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mauricioprb/run-ranking/internal/domain"
)

const maxResponseSize = 8 << 20

// DefaultScope is the permission set requested from runners.
const DefaultScope = "read,activity:read_all"

// Config is the immutable client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	AuthorizeURL string
	RedirectURL  string
	PageSize     int
	MaxPages     int
	Timeout      time.Duration
	// HTTPClient overrides the transport; tests point it at an httptest server.
	HTTPClient *http.Client
}

// Client is the Remote Activity Client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	oauth      *oauth2.Config
	schemas    *schemaSet
}

// NewClient validates cfg and compiles the response schemas.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("strava client id and secret are required")
	}
	if cfg.BaseURL == "" || cfg.TokenURL == "" {
		return nil, errors.New("strava base and token urls are required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{DefaultScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		schemas: schemas,
	}, nil
}

// AuthorizeURL builds the URL runners are sent to in order to grant access.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
}

type athletePayload struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Profile   string `json:"profile"`
}

type tokenPayload struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"`
	Athlete      *athletePayload `json:"athlete"`
}

type activityPayload struct {
	ID         int64     `json:"id"`
	Distance   float64   `json:"distance"`
	MovingTime int64     `json:"moving_time"`
	Type       string    `json:"type"`
	StartDate  time.Time `json:"start_date"`
	Athlete    *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

func (p activityPayload) toDomain() domain.Activity {
	activity := domain.Activity{
		ID:         p.ID,
		Distance:   p.Distance,
		MovingTime: p.MovingTime,
		Type:       p.Type,
		StartDate:  p.StartDate.UTC(),
	}
	if p.Athlete != nil {
		activity.RunnerID = p.Athlete.ID
	}
	return activity
}

// ExchangeCodeForToken performs the authorization-code grant.
func (c *Client) ExchangeCodeForToken(ctx context.Context, code string) (domain.Authorization, error) {
	const op = "exchange authorization code"
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	body, err := c.grant(ctx, op, form)
	if err != nil {
		return domain.Authorization{}, err
	}
	if err := validate(c.schemas.authorization, op, body); err != nil {
		return domain.Authorization{}, err
	}

	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Authorization{}, fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
	}
	return domain.Authorization{
		Credential: domain.Credential{
			AccessToken:  payload.AccessToken,
			RefreshToken: payload.RefreshToken,
			ExpiresAt:    payload.ExpiresAt,
		},
		Athlete: domain.Athlete{
			ID:        payload.Athlete.ID,
			FirstName: payload.Athlete.FirstName,
			LastName:  payload.Athlete.LastName,
			Profile:   payload.Athlete.Profile,
		},
	}, nil
}

// RefreshToken performs the refresh-token grant. The returned credential replaces
// all three stored fields.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.Credential, error) {
	const op = "refresh access token"
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	body, err := c.grant(ctx, op, form)
	if err != nil {
		return domain.Credential{}, err
	}
	if err := validate(c.schemas.refresh, op, body); err != nil {
		return domain.Credential{}, err
	}

	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
	}
	return domain.Credential{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    payload.ExpiresAt,
	}, nil
}

// ListActivities lists activities that started after the given instant, following
// pages until a short page or the page budget is spent.
func (c *Client) ListActivities(ctx context.Context, accessToken string, after time.Time) (domain.ActivityListing, error) {
	const op = "list activities"
	api := c.apiClient(ctx, accessToken)

	listing := domain.ActivityListing{Activities: make([]domain.Activity, 0)}
	for page := 1; page <= c.cfg.MaxPages; page++ {
		query := url.Values{}
		query.Set("after", strconv.FormatInt(after.Unix(), 10))
		query.Set("per_page", strconv.Itoa(c.cfg.PageSize))
		query.Set("page", strconv.Itoa(page))

		status, body, err := c.get(ctx, api, op, c.cfg.BaseURL+"/athlete/activities?"+query.Encode())
		if err != nil {
			return domain.ActivityListing{}, err
		}
		if status < 200 || status >= 300 {
			return domain.ActivityListing{}, domain.NewUpstreamError(domain.ErrUpstreamFetch, op, status, body)
		}
		if err := validate(c.schemas.activityList, op, body); err != nil {
			return domain.ActivityListing{}, err
		}

		var items []activityPayload
		if err := json.Unmarshal(body, &items); err != nil {
			return domain.ActivityListing{}, fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
		}
		for _, item := range items {
			listing.Activities = append(listing.Activities, item.toDomain())
		}
		if len(items) < c.cfg.PageSize {
			return listing, nil
		}
	}
	listing.Truncated = true
	return listing, nil
}

// FetchActivity retrieves one activity. A 404 maps to domain.ErrActivityNotFound.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error) {
	const op = "fetch activity"
	api := c.apiClient(ctx, accessToken)

	status, body, err := c.get(ctx, api, op, c.cfg.BaseURL+"/activities/"+strconv.FormatInt(activityID, 10))
	if err != nil {
		return domain.Activity{}, err
	}
	if status == http.StatusNotFound {
		return domain.Activity{}, domain.NewUpstreamError(domain.ErrActivityNotFound, op, status, body)
	}
	if status < 200 || status >= 300 {
		return domain.Activity{}, domain.NewUpstreamError(domain.ErrUpstreamFetch, op, status, body)
	}
	if err := validate(c.schemas.activity, op, body); err != nil {
		return domain.Activity{}, err
	}

	var payload activityPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Activity{}, fmt.Errorf("%w: %s: %w", domain.ErrMalformedUpstreamResponse, op, err)
	}
	return payload.toDomain(), nil
}

// apiClient wraps the base transport with a static bearer token.
func (c *Client) apiClient(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.httpClient.Timeout
	return client
}

func (c *Client) get(ctx context.Context, client *http.Client, op, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamFetch, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s: read body: %w", domain.ErrUpstreamFetch, op, err)
	}
	return resp.StatusCode, body, nil
}

// grant posts a token request with client credentials in the form body.
func (c *Client) grant(ctx context.Context, op string, form url.Values) ([]byte, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUpstreamAuth, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read body: %w", domain.ErrUpstreamAuth, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewUpstreamError(domain.ErrUpstreamAuth, op, resp.StatusCode, body)
	}
	return body, nil
}
