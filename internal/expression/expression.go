// Package expression builds Cloudflare Rules language expressions that block
// a URI pattern for every source address outside an allowlist.
package expression

import (
	"context"
	"strings"

	"github.com/bcnelson/cloudflare-waf-manager/internal/ipresolver"
)

// Compose returns `(<field> r"<uri>") and not (ip.src in {<ips>})`.
// Values are interpolated verbatim. An empty ips yields `(ip.src in {})`,
// which matches no address, so the rule then blocks every request.
func Compose(field, uri string, ips []string) string {
	uriCheck := "(" + field + ` r"` + uri + `")`
	ipCheck := "(ip.src in {" + strings.Join(ips, " ") + "})"
	return uriCheck + " and not " + ipCheck
}

// Builder composes expressions with the dynamically resolved addresses
// appended to each allowlist.
type Builder struct {
	Resolver ipresolver.Resolver
	VPNHost  string
}

// NewBuilder creates a Builder.
func NewBuilder(resolver ipresolver.Resolver, vpnHost string) *Builder {
	return &Builder{Resolver: resolver, VPNHost: vpnHost}
}

// Build resolves the current addresses and composes the expression.
// Lookups are performed on every call. allowedIPs is never modified.
func (b *Builder) Build(ctx context.Context, allowedIPs []string, uri, field string) string {
	expr, _ := b.BuildWithAddresses(ctx, allowedIPs, uri, field)
	return expr
}

// BuildWithAddresses is Build that also returns the addresses it resolved.
func (b *Builder) BuildWithAddresses(ctx context.Context, allowedIPs []string, uri, field string) (string, ipresolver.Addresses) {
	var addrs ipresolver.Addresses
	if b.Resolver != nil {
		addrs = ipresolver.ResolveAll(ctx, b.Resolver, b.VPNHost)
	}
	return Compose(field, uri, AllowList(allowedIPs, addrs)), addrs
}

// AllowList returns a new slice holding allowedIPs followed by the resolved
// addresses. Duplicates are kept.
func AllowList(allowedIPs []string, addrs ipresolver.Addresses) []string {
	dynamic := addrs.List()
	ips := make([]string, 0, len(allowedIPs)+len(dynamic))
	ips = append(ips, allowedIPs...)
	return append(ips, dynamic...)
}
