// Package urlx validates peer base URLs before the registry accepts them
// and builds the hardened HTTP client used for all peer calls.
//
// Validation blocks the usual SSRF targets: non-HTTP schemes, the
// "localhost" hostname, loopback ranges (127.0.0.0/8, ::1), link-local
// ranges (169.254.0.0/16, fe80::/10) and with them the cloud metadata
// service at 169.254.169.254.
package urlx

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/shelfmesh/shelfmesh/internal/shared"
)

// ValidatePeerURL checks that raw is an acceptable peer base URL and
// returns it normalized (trailing slash stripped). Errors wrap
// shared.ErrInvalidPeerURL.
func ValidatePeerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrInvalidPeerURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: only http/https schemes allowed", shared.ErrInvalidPeerURL)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing host", shared.ErrInvalidPeerURL)
	}
	if strings.EqualFold(host, "localhost") {
		return "", fmt.Errorf("%w: localhost is blocked", shared.ErrInvalidPeerURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.IsLoopback() {
			return "", fmt.Errorf("%w: loopback addresses are blocked", shared.ErrInvalidPeerURL)
		}
		if addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() {
			return "", fmt.Errorf("%w: link-local addresses are blocked", shared.ErrInvalidPeerURL)
		}
	}

	return strings.TrimRight(u.String(), "/"), nil
}

// SafeClient returns an HTTP client for peer calls: bounded timeout and
// redirects disabled, so a validated URL cannot redirect into a blocked
// address range.
func SafeClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
