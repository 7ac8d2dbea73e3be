package infra

import (
	"context"
	"net"
	"sort"
	"time"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

// defaultResolveTimeout bounds each lookup so a hung DNS server cannot stall
// a reconciliation cycle.
const defaultResolveTimeout = 5 * time.Second

// NetResolver implements domain.Resolver with the system resolver.
// IPv4 only: the firewall rules are installed for IPv4 addresses, matching
// the behavior of the original tool.
type NetResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewResolver creates a resolver with the default timeout.
func NewResolver() *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver, timeout: defaultResolveTimeout}
}

// NewResolverWithTimeout creates a resolver with a custom timeout (for testing).
func NewResolverWithTimeout(timeout time.Duration) *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver, timeout: timeout}
}

// LookupIPv4 resolves the host to its current set of IPv4 addresses, sorted
// and deduplicated. Failures come back as a ResolutionError so callers can
// skip the domain and continue.
func (r *NetResolver) LookupIPv4(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := r.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, &domain.ResolutionError{Host: host, Err: err}
	}

	seen := make(map[string]struct{}, len(addrs))
	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		v4 := a.To4()
		if v4 == nil {
			continue
		}
		s := v4.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		ips = append(ips, s)
	}
	sort.Strings(ips)
	return ips, nil
}

// Ensure NetResolver implements domain.Resolver.
var _ domain.Resolver = (*NetResolver)(nil)
