package rdns

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func startTestUDPServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestForwarderClientResolvesFromUpstream(t *testing.T) {
	addr := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		a := new(dns.Msg)
		a.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 203.0.113.1")
		a.Answer = []dns.RR{rr}
		_ = w.WriteMsg(a)
	})

	fc, err := NewForwarderClient("test", []string{addr}, 2*time.Second)
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := fc.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
	require.Len(t, a.Answer, 1)
}

func TestForwarderClientFailsOverToNextEndpoint(t *testing.T) {
	good := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		a := new(dns.Msg)
		a.SetReply(r)
		_ = w.WriteMsg(a)
	})

	// Port 1 on loopback, where nothing answers DNS queries.
	dead := "127.0.0.1:1"

	fc, err := NewForwarderClient("test", []string{dead, good}, 200*time.Millisecond)
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := fc.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
}

func TestNewForwarderClientRequiresUpstreams(t *testing.T) {
	_, err := NewForwarderClient("test", nil, time.Second)
	require.Error(t, err)
}
