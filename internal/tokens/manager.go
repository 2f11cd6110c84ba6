// Package tokens keeps runner access tokens valid.
package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mauricioprb/run-ranking/internal/domain"
	"github.com/mauricioprb/run-ranking/internal/observability"
)

// DefaultRefreshMargin is how close to expiry a token may get before it is refreshed.
const DefaultRefreshMargin = 300 * time.Second

// OAuthClient is the subset of the Strava client the manager needs.
type OAuthClient interface {
	ExchangeCodeForToken(ctx context.Context, code string) (domain.Authorization, error)
	RefreshToken(ctx context.Context, refreshToken string) (domain.Credential, error)
}

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRefreshMargin overrides DefaultRefreshMargin.
func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) {
		if margin > 0 {
			m.margin = margin
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager is the Token Manager.
type Manager struct {
	store  domain.RunnerStore
	client OAuthClient
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger
	group  singleflight.Group
}

// NewManager constructs a Manager.
func NewManager(store domain.RunnerStore, client OAuthClient, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		client: client,
		margin: DefaultRefreshMargin,
		now:    time.Now,
		logger: observability.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureValidAccessToken returns an access token for the runner, refreshing it when it
// expires within the margin. Refresh failures are not retried.
func (m *Manager) EnsureValidAccessToken(ctx context.Context, runnerID int64) (string, error) {
	runner, err := m.loadRunner(ctx, runnerID)
	if err != nil {
		return "", err
	}
	if !runner.Credential.ExpiresWithin(m.now(), m.margin) {
		return runner.Credential.AccessToken, nil
	}

	token, err, _ := m.group.Do(strconv.FormatInt(runnerID, 10), func() (any, error) {
		// Callers collapsed onto this flight must not fail because the first one went away.
		return m.refresh(context.WithoutCancel(ctx), runnerID)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// Login exchanges an authorization code and stores the runner. New runners start inactive.
func (m *Manager) Login(ctx context.Context, code string) (*domain.Runner, error) {
	auth, err := m.client.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return nil, err
	}
	runner, err := m.store.SaveAuthorization(ctx, auth, m.now().UTC())
	if err != nil {
		return nil, domain.StoreFailure("save authorization", err)
	}
	m.logger.Info("runner authorized",
		slog.Int64("runner_id", runner.ID),
		slog.Bool("active", runner.Active),
	)
	return runner, nil
}

func (m *Manager) loadRunner(ctx context.Context, runnerID int64) (*domain.Runner, error) {
	runner, err := m.store.GetRunner(ctx, runnerID)
	if err != nil {
		return nil, domain.StoreFailure("load runner", err)
	}
	if runner == nil {
		return nil, fmt.Errorf("%w: %d", domain.ErrRunnerNotFound, runnerID)
	}
	return runner, nil
}

func (m *Manager) refresh(ctx context.Context, runnerID int64) (string, error) {
	// Re-read inside the flight: a refresh that just finished may already have rotated it.
	runner, err := m.loadRunner(ctx, runnerID)
	if err != nil {
		return "", err
	}
	now := m.now()
	if !runner.Credential.ExpiresWithin(now, m.margin) {
		return runner.Credential.AccessToken, nil
	}

	previous := runner.Credential.RefreshToken
	cred, err := m.client.RefreshToken(ctx, previous)
	if err != nil {
		observability.RecordTokenRefresh("failure")
		return "", fmt.Errorf("%w: runner %d: %w", domain.ErrTokenRefreshFailed, runnerID, err)
	}

	applied, err := m.store.UpdateCredential(ctx, runnerID, previous, cred, now.UTC())
	if err != nil {
		return "", domain.StoreFailure("persist refreshed credential", err)
	}
	if applied {
		observability.RecordTokenRefresh("success")
		m.logger.Debug("access token refreshed", slog.Int64("runner_id", runnerID))
		return cred.AccessToken, nil
	}

	// Another writer rotated the credential between our read and the update.
	observability.RecordTokenRefresh("superseded")
	current, err := m.loadRunner(ctx, runnerID)
	if err != nil {
		return "", err
	}
	if !current.Credential.ExpiresWithin(now, m.margin) {
		return current.Credential.AccessToken, nil
	}
	m.logger.Warn("refreshed credential superseded by a stale record",
		slog.Int64("runner_id", runnerID),
	)
	return cred.AccessToken, nil
}
