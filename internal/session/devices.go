package session

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

type DeviceInfo struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version"`
	OS             string `json:"os"`
	OSVersion      string `json:"os_version"`
	DeviceType     string `json:"device_type"`
	Platform       string `json:"platform"`
}

// Device is one logged-in device session of the current user.
type Device struct {
	ID           string     `json:"id"`
	DeviceInfo   DeviceInfo `json:"device_info"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	LoginTime    time.Time  `json:"login_time"`
	LastActivity time.Time  `json:"last_activity"`
	IsCurrent    bool       `json:"is_current"`
	DisplayName  string     `json:"display_name"`
	LocationInfo string     `json:"location_info,omitempty"`
}

type deviceList struct {
	Success  bool     `json:"success"`
	Sessions []Device `json:"sessions"`
}

// ListDevices returns the active device sessions of the current user.
func (m *Manager) ListDevices(ctx context.Context) ([]Device, error) {
	var resp deviceList
	if err := m.client.Get(ctx, "/auth/sessions", nil, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return resp.Sessions, nil
}

// RevokeDevice ends one device session.
func (m *Manager) RevokeDevice(ctx context.Context, id string) error {
	if err := m.client.Delete(ctx, "/auth/sessions/"+url.PathEscape(id), nil); err != nil {
		return fmt.Errorf("revoke session %s: %w", id, err)
	}
	return nil
}

// RevokeOtherDevices ends every device session except the calling one.
func (m *Manager) RevokeOtherDevices(ctx context.Context) error {
	if err := m.client.Post(ctx, "/auth/sessions/revoke-others", nil, nil); err != nil {
		return fmt.Errorf("revoke other sessions: %w", err)
	}
	return nil
}
