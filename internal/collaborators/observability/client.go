// Package observability defines the metrics/logs/traces collaborator
// contract (spec §6) and a per-region client pool.
package observability

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// Datapoint is one sample returned by GetMetricStats.
type Datapoint struct {
	Timestamp time.Time
	Value     float64
}

// LogRow is one row returned by LogsQuery.
type LogRow struct {
	Timestamp time.Time
	Message   string
}

// Trace is one trace returned by TracesQuery.
type Trace struct {
	ID          string
	DurationMS  float64
	HasError    bool
}

// Client is the Observability collaborator contract.
type Client interface {
	GetMetricStats(ctx context.Context, namespace, name string, dims map[string]string, start, end time.Time, period time.Duration, stat string) ([]Datapoint, error)
	LogsQuery(ctx context.Context, group string, start, end time.Time, query string) ([]LogRow, error)
	TracesQuery(ctx context.Context, expr string, start, end time.Time) ([]Trace, error)
}

// Pool holds one Client per region, so Telemetry can dynamically switch to
// the incident's region without mutating shared client state (spec §9
// "Region routing").
type Pool struct {
	mu       sync.RWMutex
	clients  map[string]Client
	resolver *dnscache.Resolver
	factory  func(region string, resolver *dnscache.Resolver) Client
}

// NewPool builds a pool that lazily constructs a Client per region via
// factory, sharing one dnscache resolver across every region's HTTP
// transport (grounded on the teacher's use of rs/dnscache for long-lived
// outbound clients).
func NewPool(factory func(region string, resolver *dnscache.Resolver) Client) *Pool {
	return &Pool{
		clients:  make(map[string]Client),
		resolver: &dnscache.Resolver{},
		factory:  factory,
	}
}

// For returns the Client bound to region, constructing and caching it on
// first use.
func (p *Pool) For(region string) Client {
	p.mu.RLock()
	c, ok := p.clients[region]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[region]; ok {
		return c
	}
	c = p.factory(region, p.resolver)
	p.clients[region] = c
	return c
}

// DialContextWithCache returns a net.Dialer DialContext function backed by
// resolver's cache, for building an *http.Transport per region.
func DialContextWithCache(resolver *dnscache.Resolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil || len(ips) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}
}

// NewHTTPTransport returns a transport sharing resolver's DNS cache, used by
// concrete regional Observability client implementations.
func NewHTTPTransport(resolver *dnscache.Resolver) *http.Transport {
	return &http.Transport{DialContext: DialContextWithCache(resolver)}
}
