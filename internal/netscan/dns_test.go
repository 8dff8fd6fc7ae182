package netscan_test

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// dnsServer answers from a static zone over udp on localhost
func dnsServer(t *testing.T, zone map[string]dns.RR) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			q := r.Question[0]
			rr, ok := zone[q.Name]
			switch {
			case !ok:
				m.Rcode = dns.RcodeNameError
			case rr.Header().Rrtype == q.Qtype:
				m.Answer = append(m.Answer, rr)
			}
			_ = w.WriteMsg(m)
		}),
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.ActivateAndServe()
	}()
	<-started
	t.Cleanup(func() {
		_ = srv.Shutdown()
		<-done
	})
	return pc.LocalAddr().String()
}

func TestResolver(t *testing.T) {
	t.Parallel()

	ptr, err := dns.NewRR("7.2.0.192.in-addr.arpa. 60 IN PTR dc01.example.com.")
	require.NoError(t, err)
	a, err := dns.NewRR("dc01.example.com. 60 IN A 192.0.2.7")
	require.NoError(t, err)
	addr := dnsServer(t, map[string]dns.RR{
		"7.2.0.192.in-addr.arpa.": ptr,
		"dc01.example.com.":       a,
	})

	r, err := netscan.NewResolver(addr, time.Second)
	require.NoError(t, err)

	t.Run("reverse", func(t *testing.T) {
		name, err := r.Reverse(t.Context(), netip.MustParseAddr("192.0.2.7"))
		require.NoError(t, err)
		require.Equal(t, "dc01.example.com", name)

		_, err = r.Reverse(t.Context(), netip.MustParseAddr("192.0.2.8"))
		require.Error(t, err)
	})

	t.Run("lookup", func(t *testing.T) {
		addrs, err := r.Lookup(t.Context(), "dc01.example.com")
		require.NoError(t, err)
		require.Equal(t, []netip.Addr{netip.MustParseAddr("192.0.2.7")}, addrs)

		_, err = r.Lookup(t.Context(), "missing.example.com")
		require.Error(t, err)
	})

	t.Run("as target lookup", func(t *testing.T) {
		targets, err := netscan.ParseTargets(t.Context(), []string{"dc01.example.com"}, 10, r.Lookup)
		require.NoError(t, err)
		require.Len(t, targets, 1)
		require.Equal(t, "192.0.2.7", targets[0].Addr.String())
		require.Equal(t, "dc01.example.com", targets[0].Hostname)
	})
}

func TestSysDescr_NoAgent(t *testing.T) {
	t.Parallel()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := netip.MustParseAddrPort(pc.LocalAddr().String()).Port()
	require.NoError(t, pc.Close())

	_, err = netscan.SysDescr(t.Context(), netip.MustParseAddr("127.0.0.1"), netscan.SNMPOptions{
		Community: "public",
		Port:      port,
		Timeout:   200 * time.Millisecond,
	})
	require.Error(t, err)
}
