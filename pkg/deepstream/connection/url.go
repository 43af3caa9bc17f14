package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL fills in what users usually leave out of a deepstream URL:
// the ws:// scheme, localhost for a bare ":port", and the endpoint path.
// http and https are mapped onto ws and wss.
func NormalizeURL(raw, path string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty URL")
	}
	if strings.HasPrefix(raw, ":") {
		raw = "localhost" + raw
	}
	if strings.HasPrefix(raw, "//") {
		raw = "ws:" + raw
	} else if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("URL %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}
