package relay

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// defaultTrustedProxyHeaders are headers an identity-aware reverse proxy
// injects; their presence means the proxy already authenticated the caller.
var defaultTrustedProxyHeaders = []string{"tailscale-user-login"}

// AuthGate decides whether an incoming connection or HTTP call is
// permitted. Evaluation order (first match wins):
//
//  1. Trusted-proxy header present.
//  2. Loopback peer address.
//  3. No gateway token configured.
//  4. Caller-provided secret matches the configured token. The secret is
//     the first present of: Authorization (optionally "Bearer "-prefixed),
//     X-Auth-Token, URL query parameter "token".
type AuthGate struct {
	token        string
	proxyHeaders []string
}

// NewAuthGate constructs a gate for the configured token ("" disables the
// token requirement).
func NewAuthGate(token string) *AuthGate {
	return &AuthGate{
		token:        token,
		proxyHeaders: defaultTrustedProxyHeaders,
	}
}

// Permit reports whether the request may proceed.
func (g *AuthGate) Permit(r *http.Request) bool {
	for _, h := range g.proxyHeaders {
		if strings.TrimSpace(r.Header.Get(h)) != "" {
			return true
		}
	}

	if isLoopbackAddr(r.RemoteAddr) {
		return true
	}

	if g.token == "" {
		return true
	}

	secret := callerSecret(r)
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(g.token)) == 1
}

func callerSecret(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	if v := strings.TrimSpace(r.Header.Get("X-Auth-Token")); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// isLoopbackAddr accepts 127.0.0.0/8, ::1 and the v6-mapped loopback.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
