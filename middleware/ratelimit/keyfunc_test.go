package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultKeyFunc(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		trustXFF bool
		remote   string
		set      map[string]string
		want     string
	}{
		{
			name:   "prefers header when set",
			header: "X-Client",
			remote: "10.0.0.1:1234",
			set:    map[string]string{"X-Client": " client-123 "},
			want:   "client-123",
		},
		{
			name:   "blank header falls through",
			header: "X-Client",
			remote: "10.0.0.1:1234",
			set:    map[string]string{"X-Client": "   "},
			want:   "10.0.0.1",
		},
		{
			name:     "trusted XFF uses first ip",
			trustXFF: true,
			remote:   "10.0.0.9:5555",
			set:      map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"},
			want:     "1.2.3.4",
		},
		{
			name:   "untrusted XFF is ignored",
			remote: "10.0.0.9:5555",
			set:    map[string]string{"X-Forwarded-For": "1.2.3.4"},
			want:   "10.0.0.9",
		},
		{
			name:   "remote addr without port",
			remote: "unix-socket",
			want:   "unix-socket",
		},
		{
			name: "unknown when nothing is available",
			want: "unknown",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fn := DefaultKeyFunc(tc.header, tc.trustXFF)
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.set {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, fn(r))
		})
	}
}
