package relay

import (
	"net/http/httptest"
	"testing"
)

func TestAuthGate_Permit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		token  string
		remote string
		header map[string]string
		query  string
		want   bool
	}{
		{
			name:   "no token configured allows anyone",
			token:  "",
			remote: "203.0.113.7:41234",
			want:   true,
		},
		{
			name:   "loopback bypasses token",
			token:  "secret",
			remote: "127.0.0.1:41234",
			want:   true,
		},
		{
			name:   "loopback v6 bypasses token",
			token:  "secret",
			remote: "[::1]:41234",
			want:   true,
		},
		{
			name:   "trusted proxy header bypasses token",
			token:  "secret",
			remote: "203.0.113.7:41234",
			header: map[string]string{"Tailscale-User-Login": "alice@example.com"},
			want:   true,
		},
		{
			name:   "remote without secret rejected",
			token:  "secret",
			remote: "203.0.113.7:41234",
			want:   false,
		},
		{
			name:   "bearer token accepted",
			token:  "secret",
			remote: "203.0.113.7:41234",
			header: map[string]string{"Authorization": "Bearer secret"},
			want:   true,
		},
		{
			name:   "bare authorization accepted",
			token:  "secret",
			remote: "203.0.113.7:41234",
			header: map[string]string{"Authorization": "secret"},
			want:   true,
		},
		{
			name:   "x-auth-token accepted",
			token:  "secret",
			remote: "203.0.113.7:41234",
			header: map[string]string{"X-Auth-Token": "secret"},
			want:   true,
		},
		{
			name:   "query token accepted",
			token:  "secret",
			remote: "203.0.113.7:41234",
			query:  "token=secret",
			want:   true,
		},
		{
			name:   "wrong secret rejected",
			token:  "secret",
			remote: "203.0.113.7:41234",
			header: map[string]string{"Authorization": "Bearer nope"},
			want:   false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			url := "/ws"
			if tc.query != "" {
				url += "?" + tc.query
			}
			r := httptest.NewRequest("GET", url, nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}

			g := NewAuthGate(tc.token)
			if got := g.Permit(r); got != tc.want {
				t.Fatalf("Permit=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{in: "127.0.0.1:8080", want: true},
		{in: "127.5.5.5:1", want: true},
		{in: "[::1]:9090", want: true},
		{in: "::1", want: true},
		{in: "192.168.1.10:80", want: false},
		{in: "not-an-addr", want: false},
		{in: "", want: false},
	}

	for _, tc := range cases {
		if got := isLoopbackAddr(tc.in); got != tc.want {
			t.Fatalf("isLoopbackAddr(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}
