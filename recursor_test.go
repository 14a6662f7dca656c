package rdns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestParseDNSSECPolicy(t *testing.T) {
	p, err := ParseDNSSECPolicy("")
	require.NoError(t, err)
	require.Equal(t, DNSSECOff, p)

	_, err = ParseDNSSECPolicy("process")
	require.Error(t, err)

	_, err = ParseDNSSECPolicy("validate")
	require.Error(t, err)

	_, err = ParseDNSSECPolicy("bogus")
	require.Error(t, err)
}

func TestRandomizeCasePreservesLetters(t *testing.T) {
	name := "example.com."
	out := randomizeCase(name, false)
	require.Equal(t, name, out)

	out = randomizeCase(name, true)
	require.Equal(t, len(name), len(out))
	for i := range name {
		require.True(t, name[i] == out[i] || name[i]^0x20 == out[i])
	}
}

func TestReferralServersExtractsGlue(t *testing.T) {
	resp := new(dns.Msg)
	ns, _ := dns.NewRR("example.com. 3600 IN NS ns1.example.com.")
	glue, _ := dns.NewRR("ns1.example.com. 3600 IN A 192.0.2.1")
	unrelated, _ := dns.NewRR("other.com. 3600 IN A 192.0.2.2")
	resp.Ns = []dns.RR{ns}
	resp.Extra = []dns.RR{glue, unrelated}

	info := referralServers(resp)
	require.Equal(t, []string{"ns1.example.com."}, info.names)
	require.Len(t, info.glue, 1)
}

func TestReferralServersNoNSIsEmpty(t *testing.T) {
	resp := new(dns.Msg)
	info := referralServers(resp)
	require.Empty(t, info.names)
}

func TestNewRecursorRequiresRoots(t *testing.T) {
	_, err := NewRecursor(RecursorOptions{})
	require.Error(t, err)
}

func TestPickAllowedServerSkipsDenied(t *testing.T) {
	filter, err := NewNetFilter(nil, []string{"10.0.0.0/8"})
	require.NoError(t, err)
	r := &Recursor{opt: RecursorOptions{NetFilter: filter}}

	server, ok := r.pickAllowedServer([]string{"10.0.0.1:53", "192.0.2.1:53"})
	require.True(t, ok)
	require.Equal(t, "192.0.2.1:53", server)

	_, ok = r.pickAllowedServer([]string{"10.0.0.1:53"})
	require.False(t, ok)
}

func TestRecursorResolvesAuthoritativeAnswer(t *testing.T) {
	root := startTestUDPServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		a := new(dns.Msg)
		a.SetReply(r)
		rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 203.0.113.5")
		a.Answer = []dns.RR{rr}
		_ = w.WriteMsg(a)
	})
	host, _, err := net.SplitHostPort(root)
	require.NoError(t, err)

	rec, err := NewRecursor(RecursorOptions{
		Roots:            []string{host},
		RecursionLimit:   4,
		NSRecursionLimit: 2,
		TimeoutMS:        500,
		Attempts:         1,
	})
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	a, err := rec.Resolve(q, ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, a.Rcode)
	require.Len(t, a.Answer, 1)
}
