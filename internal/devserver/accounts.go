package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"eventconsole/console/internal/auth"
	"eventconsole/console/internal/rbac"
	"eventconsole/console/internal/util"
)

var (
	errBadCredentials = errors.New("invalid email or password")
	errUnauthorized   = errors.New("unauthorized")
	errSessionMissing = errors.New("session not found")
)

// SeedUser is an account created at startup.
type SeedUser struct {
	Email       string
	Password    string
	Name        string
	Roles       []rbac.Role
	Permissions []rbac.Permission
}

// DefaultUsers is the account set used by `console devserver`.
func DefaultUsers() []SeedUser {
	return []SeedUser{
		{
			Email:    "admin@example.org",
			Password: "admin-password",
			Name:     "Alex Admin",
			Roles:    []rbac.Role{{ID: "role_admin", Name: rbac.AdminRole, IsSystemRole: true}},
		},
		{
			Email:    "editor@example.org",
			Password: "editor-password",
			Name:     "Eli Editor",
			Roles:    []rbac.Role{{ID: "role_editor", Name: "editor"}},
			Permissions: []rbac.Permission{
				{Resource: "notulen", Action: rbac.Wildcard},
				{Resource: "chat", Action: rbac.Wildcard},
			},
		},
		{
			Email:    "viewer@example.org",
			Password: "viewer-password",
			Name:     "Vic Viewer",
			Roles:    []rbac.Role{{ID: "role_viewer", Name: "viewer"}},
			Permissions: []rbac.Permission{
				{Resource: rbac.Wildcard, Action: "read"},
			},
		},
	}
}

type account struct {
	user         rbac.User
	passwordHash []byte
}

type deviceInfo struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"`
	Platform   string `json:"platform"`
}

// deviceSession is one login. Refresh tokens rotate within it.
type deviceSession struct {
	ID           string     `json:"id"`
	UserID       string     `json:"-"`
	DeviceInfo   deviceInfo `json:"device_info"`
	UserAgent    string     `json:"user_agent"`
	IPAddress    string     `json:"ip_address"`
	LoginTime    time.Time  `json:"login_time"`
	LastActivity time.Time  `json:"last_activity"`
	IsCurrent    bool       `json:"is_current"`
	DisplayName  string     `json:"display_name"`
}

type issued struct {
	access  string
	refresh string
}

// accounts verifies passwords and manages sessions, access and refresh tokens.
type accounts struct {
	secret    []byte
	accessTTL time.Duration

	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*account
	sessions map[string]*deviceSession
	// refresh token hash -> session id
	refresh map[string]string
	// access token jti -> session id
	access map[string]string
}

func newAccounts(secret []byte, accessTTL time.Duration, seeds []SeedUser, cost int) (*accounts, error) {
	a := &accounts{
		secret:    secret,
		accessTTL: accessTTL,
		byEmail:   make(map[string]*account),
		byID:      make(map[string]*account),
		sessions:  make(map[string]*deviceSession),
		refresh:   make(map[string]string),
		access:    make(map[string]string),
	}
	for _, seed := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", seed.Email, err)
		}
		acc := &account{
			user: rbac.User{
				ID:          util.NewID("usr"),
				Email:       strings.ToLower(seed.Email),
				Name:        seed.Name,
				Active:      true,
				Roles:       seed.Roles,
				Permissions: seed.Permissions,
			},
			passwordHash: hash,
		}
		a.byEmail[acc.user.Email] = acc
		a.byID[acc.user.ID] = acc
	}
	return a, nil
}

// signIn checks the password and opens a new device session.
func (a *accounts) signIn(email, password, userAgent, ip string) (rbac.User, issued, error) {
	if email == "" || password == "" {
		return rbac.User{}, issued{}, errBadCredentials
	}
	a.mu.Lock()
	acc, ok := a.byEmail[strings.ToLower(strings.TrimSpace(email))]
	a.mu.Unlock()
	if !ok || !acc.user.Active {
		return rbac.User{}, issued{}, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		return rbac.User{}, issued{}, errBadCredentials
	}

	now := time.Now().UTC()
	a.mu.Lock()
	defer a.mu.Unlock()
	session := &deviceSession{
		ID:           util.NewID("ses"),
		UserID:       acc.user.ID,
		DeviceInfo:   deviceInfo{Browser: displayName(userAgent), DeviceType: "desktop", Platform: "cli"},
		UserAgent:    userAgent,
		IPAddress:    ip,
		LoginTime:    now,
		LastActivity: now,
		DisplayName:  displayName(userAgent),
	}
	a.sessions[session.ID] = session
	lastLogin := now
	acc.user.LastLogin = &lastLogin

	tokens, err := a.issueLocked(acc.user, session.ID)
	if err != nil {
		return rbac.User{}, issued{}, err
	}
	return acc.user, tokens, nil
}

// rotate exchanges a refresh token for a new pair. The old refresh token stops working.
func (a *accounts) rotate(refreshToken string) (issued, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	hash := auth.HashToken(refreshToken)
	sessionID, ok := a.refresh[hash]
	if !ok {
		return issued{}, errUnauthorized
	}
	delete(a.refresh, hash)
	session, ok := a.sessions[sessionID]
	if !ok {
		return issued{}, errUnauthorized
	}
	acc, ok := a.byID[session.UserID]
	if !ok || !acc.user.Active {
		return issued{}, errUnauthorized
	}
	session.LastActivity = time.Now().UTC()
	return a.issueLocked(acc.user, session.ID)
}

func (a *accounts) issueLocked(user rbac.User, sessionID string) (issued, error) {
	jti := util.NewID("jti")
	access, err := auth.IssueToken(a.secret, user.ID, user.Email, user.Name, jti, a.accessTTL)
	if err != nil {
		return issued{}, err
	}
	refresh, err := generateToken()
	if err != nil {
		return issued{}, err
	}
	a.access[jti] = sessionID
	a.refresh[auth.HashToken(refresh)] = sessionID
	return issued{access: access, refresh: refresh}, nil
}

// authenticate resolves an access token to its user and session.
func (a *accounts) authenticate(token string) (rbac.User, string, error) {
	claims, err := auth.ParseToken(a.secret, token)
	if err != nil {
		return rbac.User{}, "", errUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	sessionID, ok := a.access[claims.ID]
	if !ok {
		return rbac.User{}, "", errUnauthorized
	}
	session, ok := a.sessions[sessionID]
	if !ok {
		return rbac.User{}, "", errUnauthorized
	}
	acc, ok := a.byID[claims.Subject]
	if !ok || !acc.user.Active {
		return rbac.User{}, "", errUnauthorized
	}
	session.LastActivity = time.Now().UTC()
	return acc.user, sessionID, nil
}

// revoke ends one session and every token issued in it.
func (a *accounts) revoke(userID, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	session, ok := a.sessions[sessionID]
	if !ok || session.UserID != userID {
		return errSessionMissing
	}
	a.revokeLocked(sessionID)
	return nil
}

// revokeAll ends every session of userID except keep ("" keeps none).
func (a *accounts) revokeAll(userID, keep string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for id, session := range a.sessions {
		if session.UserID == userID && id != keep {
			a.revokeLocked(id)
			count++
		}
	}
	return count
}

func (a *accounts) revokeLocked(sessionID string) {
	delete(a.sessions, sessionID)
	for jti, id := range a.access {
		if id == sessionID {
			delete(a.access, jti)
		}
	}
	for hash, id := range a.refresh {
		if id == sessionID {
			delete(a.refresh, hash)
		}
	}
}

// expireAccess invalidates every access token while keeping refresh tokens valid.
func (a *accounts) expireAccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.access)
}

func (a *accounts) sessionsOf(userID, current string) []deviceSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]deviceSession, 0)
	for _, session := range a.sessions {
		if session.UserID != userID {
			continue
		}
		copy := *session
		copy.IsCurrent = session.ID == current
		out = append(out, copy)
	}
	return out
}

func (a *accounts) user(userID string) (rbac.User, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.byID[userID]
	if !ok {
		return rbac.User{}, false
	}
	return acc.user, true
}

func displayName(userAgent string) string {
	if userAgent == "" {
		return "Unknown device"
	}
	if i := strings.IndexByte(userAgent, ' '); i > 0 {
		return userAgent[:i]
	}
	return userAgent
}

// generateToken creates a secure random opaque token.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
