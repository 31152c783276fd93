// Package forwarder sends pass-through queries to upstream resolvers.
package forwarder

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"pablodns/pkg/config"
	"pablodns/pkg/logging"

	"github.com/miekg/dns"
)

// Forwarder relays DNS queries to upstream servers with round-robin
// selection and a bounded number of retries.
type Forwarder struct {
	upstreams []string
	index     atomic.Uint32
	timeout   time.Duration
	retries   int
	logger    *logging.Logger

	// Pool of UDP clients; TCP clients are created per query.
	clientPool sync.Pool
}

// New creates a forwarder from configuration. When no upstreams are
// configured it falls back to Cloudflare and Google public resolvers.
func New(cfg *config.Config, logger *logging.Logger) *Forwarder {
	servers := cfg.UpstreamDNSServers
	if len(servers) == 0 {
		servers = []string{"1.1.1.1:53", "8.8.8.8:53"}
	}

	upstreams := make([]string, len(servers))
	for i, upstream := range servers {
		if _, _, err := net.SplitHostPort(upstream); err != nil {
			upstreams[i] = net.JoinHostPort(upstream, "53")
		} else {
			upstreams[i] = upstream
		}
	}

	f := &Forwarder{
		upstreams: upstreams,
		timeout:   2 * time.Second,
		retries:   2,
		logger:    logger,
	}

	f.clientPool.New = func() any {
		return &dns.Client{
			Net:     "udp",
			Timeout: f.timeout,
		}
	}

	logger.Info("Forwarder initialized",
		"upstreams", upstreams,
		"timeout", f.timeout,
		"retries", f.retries,
	)

	return f
}

// Forward relays a query over UDP, trying up to the configured number of
// upstreams before giving up.
func (f *Forwarder) Forward(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	return f.exchange(ctx, r, "udp")
}

// ForwardTCP relays a query over TCP.
func (f *Forwarder) ForwardTCP(ctx context.Context, r *dns.Msg) (*dns.Msg, error) {
	return f.exchange(ctx, r, "tcp")
}

func (f *Forwarder) exchange(ctx context.Context, r *dns.Msg, network string) (*dns.Msg, error) {
	if len(f.upstreams) == 0 {
		return nil, fmt.Errorf("no upstream DNS servers configured")
	}

	attempts := min(f.retries, len(f.upstreams))
	var lastErr error

	for i := 0; i < attempts; i++ {
		upstream := f.selectUpstream()

		var client *dns.Client
		pooled := network == "udp"
		if pooled {
			client = f.clientPool.Get().(*dns.Client)
		} else {
			client = &dns.Client{Net: network, Timeout: f.timeout}
		}

		f.logger.Debug("Forwarding DNS query",
			"domain", r.Question[0].Name,
			"type", dns.TypeToString[r.Question[0].Qtype],
			"network", network,
			"upstream", upstream,
			"attempt", i+1,
		)

		resp, rtt, err := client.ExchangeContext(ctx, r, upstream)
		if pooled {
			f.clientPool.Put(client)
		}
		if err != nil {
			f.logger.Warn("Upstream query failed",
				"upstream", upstream,
				"network", network,
				"error", err,
				"attempt", i+1,
			)
			lastErr = err
			continue
		}

		if resp == nil {
			lastErr = fmt.Errorf("received nil response from %s", upstream)
			continue
		}

		if resp.Rcode == dns.RcodeServerFailure {
			f.logger.Warn("Upstream returned SERVFAIL",
				"upstream", upstream,
				"domain", r.Question[0].Name,
			)
			lastErr = fmt.Errorf("upstream %s returned SERVFAIL", upstream)
			continue
		}

		f.logger.Debug("Upstream query succeeded",
			"upstream", upstream,
			"domain", r.Question[0].Name,
			"rtt", rtt,
			"answers", len(resp.Answer),
		)

		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("all upstream servers failed: %w", lastErr)
	}
	return nil, fmt.Errorf("all upstream servers failed")
}

// selectUpstream picks the next upstream using round-robin.
func (f *Forwarder) selectUpstream() string {
	idx := f.index.Add(1) % uint32(len(f.upstreams))
	return f.upstreams[idx]
}

// SetTimeout sets the per-exchange timeout.
func (f *Forwarder) SetTimeout(timeout time.Duration) {
	f.timeout = timeout
}

// SetRetries sets the number of upstreams tried per query.
func (f *Forwarder) SetRetries(retries int) {
	f.retries = retries
}

// Upstreams returns the configured upstream servers.
func (f *Forwarder) Upstreams() []string {
	return f.upstreams
}
