// Package ipresolver looks up the operator's current public address and the
// exit address of a local VPN gateway. Lookups are best effort: failures are
// logged and reported as absent, never returned as errors.
package ipresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcnelson/cloudflare-waf-manager/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultPublicURL is the public address lookup endpoint.
const DefaultPublicURL = "https://api.ipify.org?format=json"

// Resolver looks up dynamic allowlist addresses.
type Resolver interface {
	PublicIP(ctx context.Context) (string, bool)
	VPNIP(ctx context.Context, host string) (string, bool)
}

// HTTPResolver queries JSON lookup endpoints over HTTP.
type HTTPResolver struct {
	client    *http.Client
	publicURL string
	logger    *slog.Logger
}

// Ensure HTTPResolver implements Resolver.
var _ Resolver = (*HTTPResolver)(nil)

// New creates an HTTPResolver. A zero timeout leaves the client without one.
func New(publicURL string, timeout time.Duration, logger *slog.Logger) *HTTPResolver {
	if publicURL == "" {
		publicURL = DefaultPublicURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPResolver{
		client:    &http.Client{Timeout: timeout},
		publicURL: publicURL,
		logger:    logger,
	}
}

type publicIPResponse struct {
	IP string `json:"ip"`
}

type vpnIPResponse struct {
	PublicIP string `json:"public_ip"`
}

// PublicIP returns the operator's current public address.
func (r *HTTPResolver) PublicIP(ctx context.Context) (string, bool) {
	var body publicIPResponse
	if err := r.getJSON(ctx, r.publicURL, &body); err != nil {
		r.fail("public", err)
		return "", false
	}
	if body.IP == "" {
		r.fail("public", fmt.Errorf("response has no ip field"))
		return "", false
	}
	return body.IP, true
}

// VPNIP returns the exit address reported by the VPN gateway at host.
func (r *HTTPResolver) VPNIP(ctx context.Context, host string) (string, bool) {
	if host == "" {
		return "", false
	}
	var body vpnIPResponse
	if err := r.getJSON(ctx, VPNLookupURL(host), &body); err != nil {
		r.fail("vpn", err)
		return "", false
	}
	if body.PublicIP == "" {
		r.fail("vpn", fmt.Errorf("response has no public_ip field"))
		return "", false
	}
	return body.PublicIP, true
}

// VPNLookupURL returns the public IP endpoint of a gluetun control server.
func VPNLookupURL(host string) string {
	return "http://" + host + "/v1/publicip/ip"
}

func (r *HTTPResolver) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

func (r *HTTPResolver) fail(source string, err error) {
	metrics.Get().IPLookupFailures.WithLabelValues(source).Inc()
	r.logger.Warn("Error retrieving IP address", "source", source, "error", err)
}

// Addresses holds the outcome of one round of lookups. Empty means absent.
type Addresses struct {
	Public string `json:"public,omitempty"`
	VPN    string `json:"vpn,omitempty"`
}

// List returns the present addresses in append order: public, then VPN.
func (a Addresses) List() []string {
	var out []string
	if a.Public != "" {
		out = append(out, a.Public)
	}
	if a.VPN != "" {
		out = append(out, a.VPN)
	}
	return out
}

// ResolveAll performs both lookups concurrently. An empty vpnHost skips the
// VPN lookup.
func ResolveAll(ctx context.Context, r Resolver, vpnHost string) Addresses {
	var addrs Addresses
	var g errgroup.Group

	g.Go(func() error {
		if ip, ok := r.PublicIP(ctx); ok {
			addrs.Public = ip
		}
		return nil
	})
	if vpnHost != "" {
		g.Go(func() error {
			if ip, ok := r.VPNIP(ctx, vpnHost); ok {
				addrs.VPN = ip
			}
			return nil
		})
	}

	_ = g.Wait()
	return addrs
}
