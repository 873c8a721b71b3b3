package capture

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rsclarke/dnsmon/internal/models"
	"github.com/rsclarke/dnsmon/internal/records"
	"go.uber.org/zap"
)

type mockResponseWriter struct {
	msg        *dns.Msg
	remoteAddr net.Addr
}

func (m *mockResponseWriter) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5353}
}

func (m *mockResponseWriter) RemoteAddr() net.Addr {
	return m.remoteAddr
}

func (m *mockResponseWriter) WriteMsg(msg *dns.Msg) error {
	m.msg = msg
	return nil
}

func (m *mockResponseWriter) Write([]byte) (int, error) {
	return 0, nil
}

func (m *mockResponseWriter) Close() error {
	return nil
}

func (m *mockResponseWriter) TsigStatus() error {
	return nil
}

func (m *mockResponseWriter) TsigTimersOnly(bool) {}

func (m *mockResponseWriter) Hijack() {}

// fakeUpstream answers by server address.
type fakeUpstream struct {
	answers map[string]func(*dns.Msg) *dns.Msg
	calls   []string
}

func (f *fakeUpstream) Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	f.calls = append(f.calls, address)
	answer, ok := f.answers[address]
	if !ok {
		return nil, 0, errors.New("connection refused")
	}
	return answer(m), 0, nil
}

func answerA(ip string) func(*dns.Msg) *dns.Msg {
	return func(m *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(m)
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
			A:   net.ParseIP(ip),
		})
		return resp
	}
}

type fakeOwners map[uint16]int

func (f fakeOwners) UDPOwner(local netip.AddrPort) (int, bool, error) {
	uid, ok := f[local.Port()]
	return uid, ok, nil
}

type fakePrefs map[string]bool

func (f fakePrefs) Bool(key string) (bool, error) { return f[key], nil }

const (
	upstream = "127.0.0.1:5354"
	fallback = "1.1.1.1:53"
)

func newTestServer(up *fakeUpstream, prefs fakePrefs) *Server {
	s := New(Config{Listen: "127.0.0.1:0", Upstream: upstream, Fallback: fallback, BlockIPv6: true},
		records.NewBuffer(10), prefs, fakeOwners{40000: 1000}, zap.NewNop())
	s.client = up
	return s
}

func query(s *Server, name string, qtype uint16, remote net.Addr) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	w := &mockResponseWriter{remoteAddr: remote}
	s.handleDNS(w, req)
	return w.msg
}

var loopbackClient = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}

func TestForwardRecordsAttributedQuery(t *testing.T) {
	up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{upstream: answerA("93.184.216.34")}}
	s := newTestServer(up, fakePrefs{})

	resp := query(s, "Example.com", dns.TypeA, loopbackClient)
	if resp == nil || len(resp.Answer) != 1 {
		t.Fatalf("response = %v", resp)
	}

	snap := s.buffer.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("recorded %d records, want 1", len(snap))
	}
	want := records.RawQueryRecord{
		UID:   1000,
		QName: "example.com",
		AName: "example.com",
		DAddr: "93.184.216.34",
		SAddr: "127.0.0.1",
	}
	if snap[0] != want {
		t.Errorf("record = %+v, want %+v", snap[0], want)
	}
}

func TestRemoteClientHasNoOwner(t *testing.T) {
	up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{upstream: answerA("1.2.3.4")}}
	s := newTestServer(up, fakePrefs{})

	query(s, "example.com", dns.TypeA, &net.UDPAddr{IP: net.ParseIP("192.168.43.7"), Port: 40000})

	rec := s.buffer.Snapshot()[0]
	if rec.UID != records.NoOwnerUID {
		t.Errorf("UID = %d, want sentinel", rec.UID)
	}
	if rec.SAddr != "192.168.43.7" {
		t.Errorf("SAddr = %q", rec.SAddr)
	}
}

func TestBlockedIPv6Query(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(up, fakePrefs{})

	resp := query(s, "v6.example.com", dns.TypeAAAA, loopbackClient)
	if resp == nil || resp.Rcode != dns.RcodeSuccess || len(resp.Answer) != 0 {
		t.Errorf("response = %v, want empty NOERROR", resp)
	}
	if len(up.calls) != 0 {
		t.Error("blocked IPv6 query should not be forwarded")
	}
	rec := s.buffer.Snapshot()[0]
	if !rec.Blocked || !rec.BlockedByIPv6 {
		t.Errorf("record = %+v, want blocked by ipv6", rec)
	}
}

func TestBlockedAnswers(t *testing.T) {
	tests := []struct {
		name   string
		answer func(*dns.Msg) *dns.Msg
	}{
		{"refused", func(m *dns.Msg) *dns.Msg {
			resp := new(dns.Msg)
			resp.SetRcode(m, dns.RcodeRefused)
			return resp
		}},
		{"unspecified address", answerA("0.0.0.0")},
		{"hinfo", func(m *dns.Msg) *dns.Msg {
			resp := new(dns.Msg)
			resp.SetReply(m)
			resp.Answer = append(resp.Answer, &dns.HINFO{
				Hdr: dns.RR_Header{Name: m.Question[0].Name, Rrtype: dns.TypeHINFO, Class: dns.ClassINET, Ttl: 1},
				Cpu: "This query has been locally blocked",
				Os:  "by dnscrypt-proxy",
			})
			return resp
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{upstream: tt.answer}}
			s := newTestServer(up, fakePrefs{})
			query(s, "ads.example.com", dns.TypeA, loopbackClient)

			rec := s.buffer.Snapshot()[0]
			if !rec.Blocked {
				t.Errorf("record = %+v, want blocked", rec)
			}
			if rec.DAddr != "" {
				t.Errorf("DAddr = %q, want empty for blocked", rec.DAddr)
			}
		})
	}
}

func TestCNAMERecorded(t *testing.T) {
	up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{upstream: func(m *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(m)
		resp.Answer = append(resp.Answer,
			&dns.CNAME{Hdr: dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60}, Target: "Edge.Example.NET."},
			&dns.A{Hdr: dns.RR_Header{Name: "edge.example.net.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.ParseIP("1.2.3.4")},
			&dns.A{Hdr: dns.RR_Header{Name: "edge.example.net.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60}, A: net.ParseIP("1.2.3.5")},
		)
		return resp
	}}}
	s := newTestServer(up, fakePrefs{})
	query(s, "www.example.com", dns.TypeA, loopbackClient)

	rec := s.buffer.Snapshot()[0]
	if rec.CName != "edge.example.net" || rec.AName != "edge.example.net" {
		t.Errorf("names = %q / %q", rec.AName, rec.CName)
	}
	if rec.DAddr != "1.2.3.4, 1.2.3.5" {
		t.Errorf("DAddr = %q", rec.DAddr)
	}
}

func TestFallbackOnlyWhileAllowed(t *testing.T) {
	up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{fallback: answerA("5.6.7.8")}}
	prefs := fakePrefs{}
	s := newTestServer(up, prefs)

	resp := query(s, "example.com", dns.TypeA, loopbackClient)
	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %d, want SERVFAIL without allowance", resp.Rcode)
	}

	prefs[models.PrefSystemDNSAllowed] = true
	s.Reload("allow system DNS")
	resp = query(s, "example.com", dns.TypeA, loopbackClient)
	if resp.Rcode != dns.RcodeSuccess || len(resp.Answer) != 1 {
		t.Errorf("response = %v, want fallback answer", resp)
	}

	prefs[models.PrefSystemDNSAllowed] = false
	s.Reload("deny system DNS")
	resp = query(s, "example.com", dns.TypeA, loopbackClient)
	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %d after deny, want SERVFAIL", resp.Rcode)
	}
}

func TestOtherQueryTypesNotRecorded(t *testing.T) {
	up := &fakeUpstream{answers: map[string]func(*dns.Msg) *dns.Msg{upstream: func(m *dns.Msg) *dns.Msg {
		resp := new(dns.Msg)
		resp.SetReply(m)
		return resp
	}}}
	s := newTestServer(up, fakePrefs{})
	query(s, "example.com", dns.TypeMX, loopbackClient)
	if s.buffer.Len() != 0 {
		t.Error("MX query should not be recorded")
	}
}

func TestBindDeliversFeedAsync(t *testing.T) {
	s := newTestServer(&fakeUpstream{}, fakePrefs{})

	got := make(chan records.Feed, 1)
	s.Bind(func(f records.Feed) { got <- f })
	if f := <-got; f != nil {
		t.Error("proxy that is not listening should deliver nil")
	}

	s.listening.Store(true)
	s.Bind(func(f records.Feed) { got <- f })
	if f := <-got; f == nil {
		t.Error("listening proxy should deliver its buffer")
	}
}
