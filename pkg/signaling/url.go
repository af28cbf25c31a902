package signaling

import (
	"fmt"
	"net/url"
	"strings"
)

// RoomURL builds the relay websocket URL for a screening room from the API base URL.
// http becomes ws and https becomes wss; any path on the base URL is kept as a prefix.
func RoomURL(apiURL, room, token string) (string, error) {
	if room == "" {
		return "", fmt.Errorf("room url: empty room id")
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("room url: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("room url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("room url: missing host in %q", apiURL)
	}

	rawPrefix := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/screening/" + room
	u.RawPath = rawPrefix + "/ws/screening/" + url.PathEscape(room)
	u.RawQuery = url.Values{"token": []string{token}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}
