package ipresolver

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestResolver(publicURL string) (*HTTPResolver, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return New(publicURL, 2*time.Second, logger), &buf
}

func TestPublicIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	r, _ := newTestResolver(srv.URL)
	ip, ok := r.PublicIP(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.7", ip)
}

func TestPublicIPFailuresAreAbsent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"missing field", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"address":"203.0.113.7"}`))
		}},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`203.0.113.7`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r, logs := newTestResolver(srv.URL)
			ip, ok := r.PublicIP(context.Background())
			assert.False(t, ok)
			assert.Empty(t, ip)
			assert.Contains(t, logs.String(), "Error retrieving IP address")
		})
	}
}

func TestPublicIPConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, _ := newTestResolver(url)
	_, ok := r.PublicIP(context.Background())
	assert.False(t, ok)
}

func TestVPNIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/publicip/ip", r.URL.Path)
		w.Write([]byte(`{"public_ip":"198.51.100.9","region":"Switzerland"}`))
	}))
	defer srv.Close()

	r, _ := newTestResolver("")
	host := strings.TrimPrefix(srv.URL, "http://")
	ip, ok := r.VPNIP(context.Background(), host)
	assert.True(t, ok)
	assert.Equal(t, "198.51.100.9", ip)
}

func TestVPNIPWithoutHost(t *testing.T) {
	r, logs := newTestResolver("")
	_, ok := r.VPNIP(context.Background(), "")
	assert.False(t, ok)
	assert.Empty(t, logs.String())
}

func TestVPNLookupURL(t *testing.T) {
	assert.Equal(t, "http://gluetun:8000/v1/publicip/ip", VPNLookupURL("gluetun:8000"))
}

type staticResolver struct {
	public, vpn string
	vpnHosts    []string
}

func (s *staticResolver) PublicIP(ctx context.Context) (string, bool) {
	return s.public, s.public != ""
}

func (s *staticResolver) VPNIP(ctx context.Context, host string) (string, bool) {
	s.vpnHosts = append(s.vpnHosts, host)
	return s.vpn, s.vpn != ""
}

func TestResolveAll(t *testing.T) {
	r := &staticResolver{public: "203.0.113.7", vpn: "198.51.100.9"}
	addrs := ResolveAll(context.Background(), r, "gluetun:8000")
	assert.Equal(t, []string{"203.0.113.7", "198.51.100.9"}, addrs.List())
	assert.Equal(t, []string{"gluetun:8000"}, r.vpnHosts)

	r = &staticResolver{vpn: "198.51.100.9"}
	addrs = ResolveAll(context.Background(), r, "")
	assert.Empty(t, addrs.List())
	assert.Empty(t, r.vpnHosts)

	r = &staticResolver{vpn: "198.51.100.9"}
	addrs = ResolveAll(context.Background(), r, "gluetun:8000")
	assert.Equal(t, []string{"198.51.100.9"}, addrs.List())
}
