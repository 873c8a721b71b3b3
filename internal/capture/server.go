// Package capture runs the local DNS proxy in front of the daemon and records
// every exchange it forwards.
package capture

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/rsclarke/dnsmon/internal/logging"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/records"
	"go.uber.org/zap"
)

// Exchanger sends a DNS query. *dns.Client implements it.
type Exchanger interface {
	Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// OwnerLookup finds the UID owning a local UDP socket.
type OwnerLookup interface {
	UDPOwner(local netip.AddrPort) (int, bool, error)
}

// Prefs exposes the stored system DNS allowance.
type Prefs interface {
	Bool(key string) (bool, error)
}

// Config configures the proxy.
type Config struct {
	Listen    string // host:port for UDP and TCP
	Upstream  string // the daemon
	Fallback  string // system resolver, used only while allowed
	BlockIPv6 bool
}

// Server is a DNS proxy that feeds a records.Buffer.
type Server struct {
	cfg    Config
	buffer *records.Buffer
	client Exchanger
	owners OwnerLookup
	prefs  Prefs
	logger *zap.Logger

	allowSystemDNS atomic.Bool
	listening      atomic.Bool

	udpServer *dns.Server
	tcpServer *dns.Server
}

// New creates a Server. owners may be nil, in which case no query is
// attributed to a process.
func New(cfg Config, buffer *records.Buffer, prefs Prefs, owners OwnerLookup, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		buffer: buffer,
		client: &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		owners: owners,
		prefs:  prefs,
		logger: logger,
	}
	s.Reload("startup")
	return s
}

// Start begins listening for DNS queries on UDP and TCP.
func (s *Server) Start() error {
	handler := dns.HandlerFunc(s.handleDNS)

	s.udpServer = &dns.Server{Addr: s.cfg.Listen, Net: "udp", Handler: handler}
	s.tcpServer = &dns.Server{Addr: s.cfg.Listen, Net: "tcp", Handler: handler}

	udpErrCh := make(chan error, 1)
	tcpErrCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting capture proxy", zap.String("net", "udp"), logging.Addr(s.cfg.Listen))
		if err := s.udpServer.ListenAndServe(); err != nil {
			udpErrCh <- err
		}
		close(udpErrCh)
	}()

	go func() {
		s.logger.Info("starting capture proxy", zap.String("net", "tcp"), logging.Addr(s.cfg.Listen))
		if err := s.tcpServer.ListenAndServe(); err != nil {
			tcpErrCh <- err
		}
		close(tcpErrCh)
	}()

	timeout := time.After(100 * time.Millisecond)
	for i := 0; i < 2; i++ {
		select {
		case err := <-udpErrCh:
			if err != nil {
				return fmt.Errorf("UDP capture proxy failed to start: %w", err)
			}
		case err := <-tcpErrCh:
			if err != nil {
				return fmt.Errorf("TCP capture proxy failed to start: %w", err)
			}
		case <-timeout:
			s.listening.Store(true)
			return nil
		}
	}

	s.listening.Store(true)
	return nil
}

// Shutdown gracefully stops the proxy.
func (s *Server) Shutdown(ctx context.Context) {
	s.listening.Store(false)
	if s.udpServer != nil {
		if err := s.udpServer.ShutdownContext(ctx); err != nil {
			s.logger.Warn("capture udp shutdown error", zap.Error(err))
		}
	}
	if s.tcpServer != nil {
		if err := s.tcpServer.ShutdownContext(ctx); err != nil {
			s.logger.Warn("capture tcp shutdown error", zap.Error(err))
		}
	}
}

// Reload re-reads the system DNS allowance.
func (s *Server) Reload(reason string) {
	allowed := false
	if s.prefs != nil {
		v, err := s.prefs.Bool(models.PrefSystemDNSAllowed)
		if err != nil {
			s.logger.Warn("read system dns allowance failed", zap.Error(err))
		}
		allowed = v
	}
	s.allowSystemDNS.Store(allowed)
	s.logger.Info("capture proxy reloaded", logging.Reason(reason), zap.Bool("system_dns_allowed", allowed))
}

// Bind delivers the record feed asynchronously. A proxy that is not
// listening delivers nil.
func (s *Server) Bind(done func(records.Feed)) {
	go func() {
		if !s.listening.Load() {
			done(nil)
			return
		}
		done(s.buffer)
	}()
}

func (s *Server) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		s.write(w, m)
		return
	}

	q := r.Question[0]
	qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))
	remote := remoteAddrPort(w.RemoteAddr())

	rec := records.RawQueryRecord{
		UID:   s.ownerOf(w.RemoteAddr(), remote),
		QName: qname,
		SAddr: remote.Addr().String(),
	}

	if q.Qtype == dns.TypeAAAA && s.cfg.BlockIPv6 {
		m := new(dns.Msg)
		m.SetReply(r)
		s.write(w, m)
		rec.Blocked = true
		rec.BlockedByIPv6 = true
		s.buffer.Add(rec)
		return
	}

	resp, err := s.forward(r)
	if err != nil {
		s.logger.Debug("forward failed", logging.QName(qname), logging.QType(dns.TypeToString[q.Qtype]), zap.Error(err))
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		s.write(w, m)
		return
	}
	resp.Id = r.Id
	s.write(w, resp)

	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeAAAA {
		return
	}
	fillAnswer(&rec, resp)
	s.buffer.Add(rec)
}

// forward sends r to the daemon, falling back to the system resolver while
// that is allowed.
func (s *Server) forward(r *dns.Msg) (*dns.Msg, error) {
	resp, _, err := s.client.Exchange(r, s.cfg.Upstream)
	if err == nil {
		return resp, nil
	}
	if !s.allowSystemDNS.Load() || s.cfg.Fallback == "" {
		return nil, err
	}
	resp, _, ferr := s.client.Exchange(r, s.cfg.Fallback)
	if ferr != nil {
		return nil, fmt.Errorf("upstream: %w; fallback: %v", err, ferr)
	}
	return resp, nil
}

func (s *Server) write(w dns.ResponseWriter, m *dns.Msg) {
	if err := w.WriteMsg(m); err != nil {
		s.logger.Debug("failed to write DNS response", zap.Error(err))
	}
}

// ownerOf returns the UID of a loopback UDP client, or the no-owner sentinel.
func (s *Server) ownerOf(addr net.Addr, remote netip.AddrPort) int {
	if s.owners == nil || !remote.Addr().IsLoopback() {
		return records.NoOwnerUID
	}
	if _, ok := addr.(*net.UDPAddr); !ok {
		return records.NoOwnerUID
	}
	uid, ok, err := s.owners.UDPOwner(remote)
	if err != nil {
		s.logger.Debug("owner lookup failed", logging.RemoteIP(remote.String()), zap.Error(err))
		return records.NoOwnerUID
	}
	if !ok {
		return records.NoOwnerUID
	}
	return uid
}

// fillAnswer copies the answer section into rec and marks blocked answers.
func fillAnswer(rec *records.RawQueryRecord, resp *dns.Msg) {
	if resp.Rcode == dns.RcodeRefused {
		rec.Blocked = true
		return
	}

	var addrs []string
	unspecified := 0
	for _, rr := range resp.Answer {
		switch v := rr.(type) {
		case *dns.A:
			addrs = append(addrs, v.A.String())
			if v.A.IsUnspecified() {
				unspecified++
			}
			if rec.AName == "" {
				rec.AName = strings.ToLower(strings.TrimSuffix(v.Hdr.Name, "."))
			}
		case *dns.AAAA:
			addrs = append(addrs, v.AAAA.String())
			if v.AAAA.IsUnspecified() {
				unspecified++
			}
			if rec.AName == "" {
				rec.AName = strings.ToLower(strings.TrimSuffix(v.Hdr.Name, "."))
			}
		case *dns.CNAME:
			if rec.CName == "" {
				rec.CName = strings.ToLower(strings.TrimSuffix(v.Target, "."))
			}
		case *dns.HINFO:
			// Synthesized by the daemon for locally blocked names.
			rec.Blocked = true
		}
	}

	if len(addrs) > 0 && unspecified == len(addrs) {
		rec.Blocked = true
	}
	if rec.Blocked {
		return
	}
	if rec.AName == "" {
		rec.AName = rec.QName
	}
	rec.DAddr = strings.Join(addrs, ", ")
}

func remoteAddrPort(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case *net.TCPAddr:
		ap = a.AddrPort()
	default:
		ap, _ = netip.ParseAddrPort(addr.String())
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
