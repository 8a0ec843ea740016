package httpclient

import (
	"fmt"
	"net/url"
	"strings"
)

// APIPrefix is the service prefix every API base URL must end with.
const APIPrefix = "/api"

// NormalizeBaseURL strips a trailing slash and appends APIPrefix when it is missing.
// corrected reports whether the prefix had to be added.
func NormalizeBaseURL(raw string) (normalized string, corrected bool) {
	normalized = strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasSuffix(normalized, APIPrefix) {
		return normalized + APIPrefix, true
	}
	return normalized, false
}

// PushURL turns an http(s) base into its ws(s) equivalent, appends path and carries
// token as a query parameter, since push handshakes cannot set custom headers.
func PushURL(base, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse push base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported push base scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	query := u.Query()
	query.Set("token", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
