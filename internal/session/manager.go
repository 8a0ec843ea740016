// Package session owns the logged-in user of a console process: login, logout and
// silent recovery from a persisted refresh token at startup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"eventconsole/console/internal/auth"
	"eventconsole/console/internal/httpclient"
	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/rbac"
	"eventconsole/console/internal/tokenstore"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// logoutTimeout bounds the best-effort server call made on logout.
const logoutTimeout = 3 * time.Second

// Navigator moves the user interface to the login entry point.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	Success      bool       `json:"success"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refresh_token"`
	User         *rbac.User `json:"user"`
}

// LogoutOptions is sent with POST /auth/logout.
type LogoutOptions struct {
	RevokeAllSessions bool   `json:"revoke_all_sessions,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
}

type Options struct {
	Navigator Navigator
	Logger    *slog.Logger
}

// Manager is the injectable session context. The zero value is not usable; call New.
type Manager struct {
	client *httpclient.Client
	nav    Navigator
	logger *slog.Logger

	mu      sync.RWMutex
	user    *rbac.User
	loading bool

	bootstrap sync.Once
	settled   chan struct{}
}

// New creates a manager in the loading state. Call Bootstrap once to settle it.
func New(client *httpclient.Client, opts Options) *Manager {
	nav := opts.Navigator
	if nav == nil {
		nav = NavigatorFunc(func() {})
	}
	m := &Manager{
		client:  client,
		nav:     nav,
		logger:  logging.Component(opts.Logger, "session"),
		loading: true,
		settled: make(chan struct{}),
	}
	client.OnSessionExpired(m.expired)
	return m
}

// Bootstrap recovers the session from a persisted refresh token. It runs once per
// manager; later calls return nil immediately. Without a refresh token the session
// starts anonymous and nothing is sent to the backend.
func (m *Manager) Bootstrap(ctx context.Context) error {
	var err error
	m.bootstrap.Do(func() {
		defer m.settle()
		err = m.recover(ctx)
	})
	return err
}

func (m *Manager) recover(ctx context.Context) error {
	refresh, err := m.client.Tokens().Get(ctx, tokenstore.Refresh)
	if err != nil {
		m.reset(ctx)
		return fmt.Errorf("load refresh token: %w", err)
	}
	if refresh == "" {
		m.logger.Debug("no persisted session")
		return nil
	}

	if _, err := m.client.Refresh(ctx); err != nil {
		m.reset(ctx)
		return fmt.Errorf("recover session: %w", err)
	}
	user, err := m.Profile(ctx)
	if err != nil {
		m.reset(ctx)
		return fmt.Errorf("recover session: %w", err)
	}
	m.setUser(user)
	m.logger.Info("session recovered", "user_id", user.ID)
	return nil
}

func (m *Manager) settle() {
	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
	close(m.settled)
}

// Wait blocks until Bootstrap has settled or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Login exchanges credentials for a token pair and loads the user.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*rbac.User, error) {
	var resp LoginResponse
	err := m.client.Do(ctx, &httpclient.Request{
		Method:   http.MethodPost,
		Path:     "/auth/login",
		Body:     creds,
		SkipAuth: true,
	}, &resp)
	if err != nil {
		if status := httpclient.StatusOf(err); status == http.StatusUnauthorized || status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return nil, fmt.Errorf("login: %w", err)
	}
	if !resp.Success || resp.Token == "" {
		return nil, ErrInvalidCredentials
	}
	if err := m.client.SetTokens(ctx, resp.Token, resp.RefreshToken); err != nil {
		return nil, err
	}

	user := resp.User
	if user == nil {
		if user, err = m.Profile(ctx); err != nil {
			return nil, fmt.Errorf("load profile after login: %w", err)
		}
	}
	m.setUser(user)
	m.logger.Info("logged in", "user_id", user.ID)
	return user, nil
}

// Logout revokes the session on the server if it can and always clears local state.
// Server failures are logged, never returned.
func (m *Manager) Logout(ctx context.Context, opts LogoutOptions) {
	callCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()
	err := m.client.Do(callCtx, &httpclient.Request{
		Method:    http.MethodPost,
		Path:      "/auth/logout",
		Body:      opts,
		NoRefresh: true,
	}, nil)
	if err != nil {
		m.logger.Warn("server logout failed, clearing local session anyway", "error", err)
	}
	m.reset(ctx)
	m.nav.ToLogin()
	m.logger.Info("logged out")
}

// Profile fetches the current user from the backend without changing session state.
func (m *Manager) Profile(ctx context.Context) (*rbac.User, error) {
	var user rbac.User
	if err := m.client.Get(ctx, "/auth/profile", nil, &user); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &user, nil
}

// expired runs after the client failed to refresh. Tokens are already gone.
func (m *Manager) expired(err error) {
	m.setUser(nil)
	if m.IsLoading() {
		return
	}
	m.logger.Info("session expired, returning to login", "error", err)
	m.nav.ToLogin()
}

func (m *Manager) reset(ctx context.Context) {
	if err := tokenstore.ClearAll(ctx, m.client.Tokens()); err != nil {
		m.logger.Error("clear tokens", "error", err)
	}
	m.setUser(nil)
}

func (m *Manager) setUser(user *rbac.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
}

// CurrentUser returns the session's user snapshot, or nil when anonymous.
func (m *Manager) CurrentUser() *rbac.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

func (m *Manager) IsAuthenticated() bool {
	return m.CurrentUser() != nil
}

// IsLoading reports whether startup recovery has not settled yet.
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

func (m *Manager) HasRole(role string) bool {
	return rbac.HasRole(m.CurrentUser(), role)
}

func (m *Manager) HasPermission(resource, action string) bool {
	return rbac.HasPermission(m.CurrentUser(), resource, action)
}

func (m *Manager) HasMenuAccess(matrix rbac.MenuMatrix, item string) bool {
	return rbac.HasMenuAccess(m.CurrentUser(), matrix, item)
}

// Guard decides route access for the current session.
func (m *Manager) Guard(req rbac.Requirement) rbac.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rbac.Guard(m.loading, m.user, req)
}

// AccessToken returns the stored access token.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token, err := m.client.Tokens().Get(ctx, tokenstore.Access)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// AccessExpiry reports when the stored access token expires, read from its claims
// without verification.
func (m *Manager) AccessExpiry(ctx context.Context) (time.Time, error) {
	token, err := m.AccessToken(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return auth.PeekExpiry(token)
}
