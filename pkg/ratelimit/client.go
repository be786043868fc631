package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/flowgate/pkg/auth"
)

// ClientID identifies the caller a window is kept for. Authenticated users
// come first, then API keys, then the client address.
func ClientID(r *http.Request) string {
	if identity := auth.IdentityFromContext(r.Context()); identity != nil {
		if identity.UserID != "" {
			return "user:" + identity.UserID
		}
		if identity.APIKeyPrefix != "" {
			return "api:" + identity.APIKeyPrefix
		}
	}

	if key := strings.TrimSpace(r.Header.Get(auth.APIKeyHeader)); key != "" {
		if len(key) > auth.DisplayPrefixLength {
			key = key[:auth.DisplayPrefixLength]
		}
		return "api:" + key
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return "ip:" + first
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		return "ip:" + host
	}

	return "unknown"
}
