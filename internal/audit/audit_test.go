package audit_test

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/audit"
	"github.com/CZERTAINLY/eolaudit/internal/classify"
	"github.com/CZERTAINLY/eolaudit/internal/eol"
	"github.com/CZERTAINLY/eolaudit/internal/fingerprint"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/CZERTAINLY/eolaudit/internal/report"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return ref }

const kbYAML = `
- vendor: microsoft
  product: Windows Server
  version: "2008 R2"
  eol_date: 2020-01-14
  alternatives: [Windows Server 2022, Windows Server 2025]
- vendor: vmware
  product: ESXi
  version: "6.5"
  eol_date: 2022-10-15
  alternatives: [ESXi 8.0]
- vendor: canonical
  product: Ubuntu
  version: "20.04"
  eol_date: 2025-09-01
  alternatives: [Ubuntu 24.04 LTS]
- vendor: canonical
  product: Ubuntu
  version: "24.04"
  eol_date: 2029-05-31
`

func knowledgeBase(t *testing.T) *eol.KnowledgeBase {
	t.Helper()
	kb, err := eol.LoadAll(eol.Source{Name: "test.yaml", Data: []byte(kbYAML)})
	require.NoError(t, err)
	return kb
}

// fakeDiscoverer returns prepared records, targets without one are unreachable
type fakeDiscoverer struct {
	hosts  map[netip.Addr]model.HostRecord
	limit  int
	called bool
}

func (f *fakeDiscoverer) Discover(_ context.Context, targets []netscan.Target) (netscan.ScanResult, error) {
	f.called = true
	res := netscan.ScanResult{Requested: len(targets)}
	for i, t := range targets {
		if f.limit > 0 && i >= f.limit {
			res.Incomplete = true
			break
		}
		res.Probed++
		h, ok := f.hosts[t.Addr]
		if !ok {
			h = model.HostRecord{IP: t.Addr, Reachability: model.Unreachable}
		}
		res.Hosts = append(res.Hosts, h)
	}
	return res, nil
}

func reachable(ip string, port uint16, banner string) model.HostRecord {
	return model.HostRecord{
		IP:           netip.MustParseAddr(ip),
		Reachability: model.Reachable,
		Ports:        []model.PortSignal{{Port: port, Banner: banner}},
	}
}

// fleet has 15 hosts: 2 critical, 1 warning, 10 supported and 2 unknown
func fleet() map[netip.Addr]model.HostRecord {
	hosts := []model.HostRecord{
		reachable("10.0.0.1", 443, "VMware ESXi 6.5.0 build-4564106"),
		reachable("10.0.0.2", 445, "Windows Server 2008 R2 Standard 7601 Service Pack 1"),
		reachable("10.0.0.3", 22, "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"),
		reachable("10.0.0.4", 80, "FreeBSD"),
	}
	for i := 5; i <= 14; i++ {
		hosts = append(hosts, reachable(fmt.Sprintf("10.0.0.%d", i), 22, "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13"))
	}
	ret := make(map[netip.Addr]model.HostRecord, len(hosts))
	for _, h := range hosts {
		ret[h.IP] = h
	}
	return ret
}

func TestRun(t *testing.T) {
	t.Parallel()
	d := &fakeDiscoverer{hosts: fleet()}
	a := audit.New(d, knowledgeBase(t), classify.DefaultThresholds).WithClock(clock)

	// 10.0.1.1 is explicit and unreachable
	r, err := a.Run(t.Context(), []string{"10.0.0.0/28", "10.0.1.1"})
	require.NoError(t, err)

	require.Equal(t, model.Summary{Critical: 2, Warning: 1, Unknown: 2, Supported: 10, Total: 15}, r.Summary)
	require.Equal(t, 15, r.Requested)
	require.Equal(t, 15, r.Probed)
	require.Equal(t, 15, r.Analyzed)
	require.False(t, r.Incomplete)
	require.Equal(t, "10.0.0.0/28, 10.0.1.1", r.Targets)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), r.ReferenceDate)
	require.NotEmpty(t, r.ID)

	var got []string
	for _, f := range r.Findings {
		got = append(got, fmt.Sprintf("%s %s", f.Host.IP, f.Status))
	}
	require.Equal(t, []string{
		"10.0.0.2 CRITICAL",
		"10.0.0.1 CRITICAL",
		"10.0.0.3 WARNING",
		"10.0.0.4 UNKNOWN",
		"10.0.1.1 UNKNOWN",
	}, got[:5])
	for _, s := range got[5:] {
		require.Contains(t, s, "SUPPORTED")
	}

	critical := r.Findings[0]
	require.True(t, critical.Overdue)
	require.Equal(t, "Windows Server 2008 R2", critical.Entry.Name())
	require.Equal(t, 1965, critical.DayCount)

	require.Equal(t, "host unreachable, operating system not identified", r.Findings[4].Message)

	require.Len(t, r.Recommendations, 4)
	require.Equal(t, model.LevelCritical, r.Recommendations[0].Level)
	require.Equal(t, []string{"Windows Server 2022", "Windows Server 2025"}, r.Recommendations[0].Alternatives)
	require.Equal(t, model.LevelInfo, r.Recommendations[3].Level)
	require.Equal(t, []string{"10.0.0.4", "10.0.1.1"}, r.Recommendations[3].Hosts)

	require.Equal(t, report.ExitCritical, report.ExitCode(r))
}

func TestRun_Deadline(t *testing.T) {
	t.Parallel()
	d := &fakeDiscoverer{hosts: fleet(), limit: 5}
	a := audit.New(d, knowledgeBase(t), classify.DefaultThresholds).WithClock(clock)

	r, err := a.Run(t.Context(), []string{"10.0.0.0/27"})
	require.NoError(t, err)
	require.True(t, r.Incomplete)
	require.Equal(t, 30, r.Requested)
	require.Equal(t, 5, r.Probed)
	require.Equal(t, 5, r.Analyzed)
	require.Equal(t, 2, r.Summary.Critical)
	require.Equal(t, report.ExitIncomplete, report.ExitCode(r))
	require.Contains(t, report.StatusLine(r), "(incomplete scan)")
}

func TestRun_InvalidTargets(t *testing.T) {
	t.Parallel()
	d := &fakeDiscoverer{}
	a := audit.New(d, knowledgeBase(t), classify.DefaultThresholds).WithMaxTargets(8)

	var testCases = []struct {
		scenario string
		given    []string
	}{
		{"no targets", nil},
		{"bad range", []string{"10.0.0.0/40"}},
		{"too many", []string{"10.0.0.0/24"}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := a.Run(t.Context(), tc.given)
			require.ErrorIs(t, err, model.ErrConfig)
		})
	}
	require.False(t, d.called)
}

func TestRun_AllUnknown(t *testing.T) {
	t.Parallel()
	a := audit.New(&fakeDiscoverer{}, knowledgeBase(t), classify.DefaultThresholds).WithClock(clock)
	r, err := a.Run(t.Context(), []string{"192.0.2.1", "192.0.2.2"})
	require.NoError(t, err)
	require.Equal(t, 2, r.Summary.Unknown)
	require.Equal(t, report.ExitIncomplete, report.ExitCode(r))
}

func TestRun_Fingerprinter(t *testing.T) {
	t.Parallel()
	// a local build announcing itself as FreeBSD is known to be Ubuntu 20.04
	rules := append([]fingerprint.Rule{{
		Name:       "site-freebsd-banner",
		Kind:       fingerprint.KindBanner,
		Candidate:  fingerprint.Candidate{Family: fingerprint.FamilyLinux, Vendor: "canonical", Product: "Ubuntu", Version: "20.04"},
		Confidence: 0.95,
		Pattern:    regexp.MustCompile(`^FreeBSD$`),
	}}, fingerprint.DefaultRules...)

	a := audit.New(&fakeDiscoverer{hosts: fleet()}, knowledgeBase(t), classify.DefaultThresholds).
		WithClock(clock).
		WithFingerprinter(fingerprint.New(rules...))
	r, err := a.Run(t.Context(), []string{"10.0.0.4"})
	require.NoError(t, err)
	require.Len(t, r.Findings, 1)
	f := r.Findings[0]
	require.Equal(t, "site-freebsd-banner", f.Fingerprint.Rule)
	require.Equal(t, model.StatusWarning, f.Status)
	require.Equal(t, 92, f.DayCount)
}

func TestCheck(t *testing.T) {
	t.Parallel()
	a := audit.New(&fakeDiscoverer{}, knowledgeBase(t), classify.DefaultThresholds).WithClock(clock)

	var testCases = []struct {
		given string
		then  model.Status
	}{
		{"VMware ESXi 6.5", model.StatusCritical},
		{"Windows Server 2008 R2 Datacenter", model.StatusCritical},
		{"Ubuntu 20.04.6 LTS", model.StatusWarning},
		{"Ubuntu 24.04", model.StatusSupported},
		{"Ubuntu 22.04", model.StatusUnknown},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			t.Parallel()
			f, err := a.Check(tc.given)
			require.NoError(t, err)
			require.True(t, f.Fingerprint.Known(), "%+v", f.Fingerprint)
			require.Equal(t, tc.then, f.Status, f.Message)
		})
	}

	f, err := a.Check("Windows Server 2008 R2")
	require.NoError(t, err)
	require.Equal(t, model.FamilyWindows, f.Fingerprint.Family)
	require.True(t, f.Overdue)
	require.NotNil(t, f.Entry)

	_, err = a.Check("TempleOS 5")
	require.ErrorIs(t, err, model.ErrNoMatch)
}

func TestList(t *testing.T) {
	t.Parallel()
	a := audit.New(&fakeDiscoverer{}, knowledgeBase(t), classify.DefaultThresholds).WithClock(clock)
	entries := a.List()
	require.Len(t, entries, 4)

	statuses := make(map[string]model.Status)
	for _, e := range entries {
		statuses[e.Entry.Name()] = e.Status
	}
	require.Equal(t, map[string]model.Status{
		"Windows Server 2008 R2": model.StatusCritical,
		"ESXi 6.5":               model.StatusCritical,
		"Ubuntu 20.04":           model.StatusWarning,
		"Ubuntu 24.04":           model.StatusSupported,
	}, statuses)
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig(t.Context())
	cfg.Scan.DNS.Enabled = false

	a, err := audit.FromConfig(t.Context(), cfg)
	require.NoError(t, err)
	require.Positive(t, a.KnowledgeBase().Len())

	cfg.Scan.Engine = model.EngineNmap
	_, err = audit.FromConfig(t.Context(), cfg)
	require.NoError(t, err)

	cfg.Scan.Engine = "masscan"
	_, err = audit.FromConfig(t.Context(), cfg)
	require.ErrorIs(t, err, model.ErrConfig)
}
