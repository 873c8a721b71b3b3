// Package rdns resolves addresses to host names with PTR queries.
package rdns

import (
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/rsclarke/dnsmon/internal/logging"
	"go.uber.org/zap"
)

// Exchanger sends a DNS query. *dns.Client implements it.
type Exchanger interface {
	Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

const (
	defaultTimeout = 2 * time.Second
	defaultTTL     = 10 * time.Minute
	maxEntries     = 4096
)

type entry struct {
	host    string
	expires time.Time
}

// Resolver performs cached reverse lookups against one server.
type Resolver struct {
	server string
	client Exchanger
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]entry
}

// New creates a Resolver querying server (host:port).
func New(server string, logger *zap.Logger) *Resolver {
	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: defaultTimeout},
		ttl:    defaultTTL,
		now:    time.Now,
		logger: logger,
		cache:  make(map[string]entry),
	}
}

// HostByIP implements records.HostResolver. Failed lookups are cached as "".
func (r *Resolver) HostByIP(ip string) string {
	now := r.now()

	r.mu.Lock()
	if e, ok := r.cache[ip]; ok && now.Before(e.expires) {
		r.mu.Unlock()
		return e.host
	}
	r.mu.Unlock()

	host := r.lookup(ip)

	r.mu.Lock()
	if len(r.cache) >= maxEntries {
		r.cache = make(map[string]entry)
	}
	r.cache[ip] = entry{host: host, expires: now.Add(r.ttl)}
	r.mu.Unlock()

	return host
}

func (r *Resolver) lookup(ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.Exchange(m, r.server)
	if err != nil {
		r.logger.Debug("ptr lookup failed", logging.RemoteIP(ip), zap.Error(err))
		return ""
	}
	if in.Rcode != dns.RcodeSuccess {
		return ""
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.ToLower(strings.TrimSuffix(ptr.Ptr, "."))
		}
	}
	return ""
}
