// Package devserver is an in-memory backend speaking the console's API: login with
// rotating refresh tokens, device sessions, minutes, chat and their push channels.
// It backs `console devserver` and the end-to-end tests.
package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"eventconsole/console/internal/logging"
	"eventconsole/console/internal/minutes"
	"eventconsole/console/internal/rbac"
)

const (
	DefaultAccessTTL = 15 * time.Minute

	topicMinutes = "notulen"
	topicChat    = "chat:"
)

type Config struct {
	Secret    []byte
	AccessTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost. Tests use bcrypt.MinCost.
	BcryptCost int
	Users      []SeedUser
	Logger     *slog.Logger
	// Gatherer is exposed on /metrics when set.
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg      Config
	logger   *slog.Logger
	accounts *accounts
	minutes  *minutesStore
	chat     *chatStore
	hub      *hub

	refreshCalls atomic.Int64
}

func New(cfg Config) (*Server, error) {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Users == nil {
		cfg.Users = DefaultUsers()
	}
	logger := logging.Component(cfg.Logger, "devserver")
	accts, err := newAccounts(cfg.Secret, cfg.AccessTTL, cfg.Users, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		accounts: accts,
		minutes:  newMinutesStore(),
		chat:     newChatStore(),
		hub:      newHub(logger),
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Get("/ws/notulen", s.handleWatch(func(*http.Request) string { return topicMinutes }))
		r.Get("/chat/ws/{channelId}", s.handleWatch(func(r *http.Request) string {
			return topicChat + chi.URLParam(r, "channelId")
		}))

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/profile", s.handleProfile)
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/sessions", s.handleListSessions)
			r.Delete("/auth/sessions/{sessionId}", s.handleRevokeSession)
			r.Post("/auth/sessions/revoke-others", s.handleRevokeOthers)

			r.Get("/notulen", s.handleListMinutes)
			r.Post("/notulen", s.handleCreateMinutes)
			r.Get("/notulen/{id}", s.handleGetMinutes)
			r.Put("/notulen/{id}", s.handleUpdateMinutes)
			r.Delete("/notulen/{id}", s.handleDeleteMinutes)
			r.Put("/notulen/{id}/finalize", s.handleTransitionMinutes(minutes.StatusFinalized))
			r.Put("/notulen/{id}/archive", s.handleTransitionMinutes(minutes.StatusArchived))

			r.Get("/chat/channels", s.handleListChannels)
			r.Post("/chat/channels", s.handleCreateChannel)
			r.Post("/chat/channels/{channelId}/join", s.handleJoinChannel)
			r.Post("/chat/channels/{channelId}/leave", s.handleLeaveChannel)
			r.Get("/chat/channels/{channelId}/messages", s.handleListMessages)
			r.Post("/chat/channels/{channelId}/messages", s.handleSendMessage)
			r.Delete("/chat/messages/{messageId}", s.handleDeleteMessage)
		})
	})

	return withMiddleware(s.logger, r)
}

// ExpireAccessTokens invalidates every issued access token. Refresh tokens stay valid.
func (s *Server) ExpireAccessTokens() { s.accounts.expireAccess() }

// RefreshCalls counts POST /auth/refresh requests, successful or not.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Subscribers returns the number of open minutes push connections.
func (s *Server) Subscribers() int { return s.hub.count(topicMinutes) }

// ChatSubscribers returns the number of open push connections for channelID.
func (s *Server) ChatSubscribers(channelID string) int { return s.hub.count(topicChat + channelID) }

// DropConnections closes every push connection, as a restarting backend would.
func (s *Server) DropConnections() { s.hub.dropAll() }

// Publish sends a raw frame to every minutes subscriber.
func (s *Server) Publish(frame []byte) { s.hub.publishRaw(topicMinutes, frame) }

// Close drops the push connections.
func (s *Server) Close() { s.hub.dropAll() }

type principal struct {
	user      rbac.User
	sessionID string
}

type principalKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing token")
			return
		}
		user, sessionID, err := s.accounts.authenticate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal{user: user, sessionID: sessionID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey{}).(principal)
	return p
}

// allowed writes 403 and returns false when the caller lacks action on resource.
func allowed(w http.ResponseWriter, r *http.Request, resource, action string) bool {
	p := principalFrom(r.Context())
	if rbac.HasPermission(&p.user, resource, action) {
		return true
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "missing permission "+resource+":"+action)
	return false
}

func (s *Server) handleWatch(topic func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := s.accounts.authenticate(r.URL.Query().Get("token")); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		s.hub.serve(w, r, topic(r))
	}
}
