package netscan_test

import (
	"context"
	"net"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/fingerprint"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/stretchr/testify/require"
)

var localhost = netip.MustParseAddr("127.0.0.1")

func localOptions() netscan.Options {
	return netscan.Options{
		Ports: []uint16{
			sshAddr.Port(),
			httpAddr.Port(),
			tlsAddr.Port(),
			silentAddr.Port(),
			closedAddr.Port(),
		},
		LivenessPorts: []uint16{httpAddr.Port()},
		Timeout:       500 * time.Millisecond,
		Deadline:      30 * time.Second,
		Workers:       4,
		Probes: map[uint16]netscan.ProbeKind{
			sshAddr.Port():    netscan.ProbePassive,
			httpAddr.Port():   netscan.ProbeHTTP,
			tlsAddr.Port():    netscan.ProbeTLS,
			silentAddr.Port(): netscan.ProbePassive,
		},
	}
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	s := netscan.New(localOptions())
	res, err := s.Discover(t.Context(), []netscan.Target{{Addr: localhost, Explicit: true}})
	require.NoError(t, err)
	require.False(t, res.Incomplete)
	require.Equal(t, 1, res.Requested)
	require.Equal(t, 1, res.Probed)
	require.Len(t, res.Hosts, 1)

	host := res.Hosts[0]
	require.Equal(t, localhost, host.IP)
	require.Equal(t, model.Reachable, host.Reachability)
	require.Len(t, host.Ports, 4)
	require.False(t, host.HasPort(closedAddr.Port()))

	ssh, ok := host.Port(sshAddr.Port())
	require.True(t, ok)
	require.Equal(t, "SSH-2.0-"+sshVersion, ssh.Banner)

	http, ok := host.Port(httpAddr.Port())
	require.True(t, ok)
	require.True(t, strings.HasPrefix(http.Banner, "HTTP/1.0 200 OK"), http.Banner)
	require.Contains(t, http.Banner, "Server: Microsoft-IIS/8.5")

	https, ok := host.Port(tlsAddr.Port())
	require.True(t, ok)
	require.Contains(t, https.Banner, "subject: CN=localhost")
	require.Contains(t, https.Banner, "Server: httptest")

	silent, ok := host.Port(silentAddr.Port())
	require.True(t, ok)
	require.Empty(t, silent.Banner)

	fp := fingerprint.Infer(host)
	require.Equal(t, "Ubuntu 20.04", fp.String())
	require.Equal(t, "openssh-ubuntu", fp.Rule)
}

func TestDiscover_Unresponsive(t *testing.T) {
	t.Parallel()

	opts := localOptions()
	opts.LivenessPorts = []uint16{9}
	opts.Timeout = 200 * time.Millisecond
	opts.Dial = timeoutDial

	type then struct {
		hosts []string
	}
	var testCases = []struct {
		scenario           string
		given              string
		reportUnresponsive bool
		then               then
	}{
		{
			scenario: "explicit address is always reported",
			given:    "192.0.2.1",
			then:     then{hosts: []string{"192.0.2.1"}},
		},
		{
			scenario: "sweep omits unresponsive addresses",
			given:    "192.0.2.0/30",
			then:     then{},
		},
		{
			scenario:           "sweep reports unresponsive addresses on demand",
			given:              "192.0.2.0/30",
			reportUnresponsive: true,
			then:               then{hosts: []string{"192.0.2.1", "192.0.2.2"}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			targets, err := netscan.ParseTargets(t.Context(), []string{tc.given}, 16, nil)
			require.NoError(t, err)

			o := opts
			o.ReportUnresponsive = tc.reportUnresponsive
			res, err := netscan.New(o).Discover(t.Context(), targets)
			require.NoError(t, err)
			require.False(t, res.Incomplete)
			require.Equal(t, len(targets), res.Probed)

			var hosts []string
			for _, h := range res.Hosts {
				hosts = append(hosts, h.IP.String())
				require.NotEqual(t, model.Reachable, h.Reachability)
				require.Empty(t, h.Ports)
			}
			require.Equal(t, tc.then.hosts, hosts)
		})
	}
}

// timeoutDial behaves like a connect to a host which drops every packet
func timeoutDial(_ context.Context, network, _ string) (net.Conn, error) {
	return nil, &net.OpError{Op: "dial", Net: network, Err: os.ErrDeadlineExceeded}
}

func TestDiscover_Refused(t *testing.T) {
	t.Parallel()

	opts := localOptions()
	opts.LivenessPorts = []uint16{9}
	opts.Dial = func(_ context.Context, network, _ string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: syscall.ECONNREFUSED}
	}
	targets, err := netscan.ParseTargets(t.Context(), []string{"192.0.2.1"}, 16, nil)
	require.NoError(t, err)

	res, err := netscan.New(opts).Discover(t.Context(), targets)
	require.NoError(t, err)
	require.Len(t, res.Hosts, 1)
	require.Equal(t, model.Reachable, res.Hosts[0].Reachability)
	require.Empty(t, res.Hosts[0].Ports)
}

func TestDiscover_Deadline(t *testing.T) {
	t.Parallel()

	opts := localOptions()
	opts.Ports = []uint16{closedAddr.Port()}
	opts.LivenessPorts = []uint16{closedAddr.Port()}
	opts.Workers = 1
	opts.Rate = 4
	opts.Deadline = time.Second

	targets := make([]netscan.Target, 20)
	for i := range targets {
		targets[i] = netscan.Target{Addr: localhost}
	}

	start := time.Now()
	res, err := netscan.New(opts).Discover(t.Context(), targets)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second)

	require.True(t, res.Incomplete)
	require.Equal(t, 20, res.Requested)
	require.Positive(t, res.Probed)
	require.Less(t, res.Probed, 20)
	require.LessOrEqual(t, len(res.Hosts), res.Probed)
	for _, h := range res.Hosts {
		require.Contains(t, []model.Reachability{model.Reachable, model.Timeout}, h.Reachability)
	}
}

func TestDiscover_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := netscan.New(localOptions()).Discover(ctx, []netscan.Target{{Addr: localhost}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiscover_Empty(t *testing.T) {
	t.Parallel()
	res, err := netscan.New(localOptions()).Discover(t.Context(), nil)
	require.NoError(t, err)
	require.Zero(t, res.Requested)
	require.Empty(t, res.Hosts)
	require.False(t, res.Incomplete)
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig(t.Context()).Scan
	cfg.Ports = []int{22, 80, 22}
	cfg.DNS.Enabled = false
	cfg.SNMP = &model.SNMP{Enabled: true, Community: "public"}

	opts, err := netscan.OptionsFromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, []uint16{22, 80}, opts.Ports)
	require.Equal(t, cfg.ProbeTimeout(), opts.Timeout)
	require.NotNil(t, opts.SNMP)
	require.Equal(t, uint16(161), opts.SNMP.Port)
	require.Equal(t, opts.Timeout, opts.SNMP.Timeout)
	require.Nil(t, opts.Resolver)
	require.Nil(t, opts.Probes)

	cfg.Probes = map[string]string{"2222": "passive", "80": "none"}
	opts, err = netscan.OptionsFromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, netscan.ProbePassive, opts.Probes[2222])
	require.Equal(t, netscan.ProbeNone, opts.Probes[80])
	require.Equal(t, netscan.ProbeTLS, opts.Probes[443])
	require.Equal(t, netscan.ProbeHTTP, netscan.DefaultProbes[80])

	cfg.Probes = map[string]string{"2222": "telnet"}
	_, err = netscan.OptionsFromConfig(cfg)
	require.ErrorIs(t, err, model.ErrConfig)
	cfg.Probes = nil

	cfg.Ports = []int{70000}
	_, err = netscan.OptionsFromConfig(cfg)
	require.ErrorIs(t, err, model.ErrConfig)
}
