// Package nmap is an alternative discovery engine running nmap service and OS detection
package nmap

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/log"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/CZERTAINLY/eolaudit/internal/parallel"

	"github.com/Ullaakut/nmap/v3"
)

// Scanner is a wrapper on top of "github.com/Ullaakut/nmap/v3" Scanner.
// Each target is scanned by its own nmap process.
type Scanner struct {
	nmap               string
	ports              []string
	workers            int
	hostTimeout        time.Duration
	deadline           time.Duration
	maxRate            int
	reportUnresponsive bool
	options            []nmap.Option
}

// New creates a nmap scanner with -sV, adding -O when running as root
func New() Scanner {
	options := []nmap.Option{
		nmap.WithServiceInfo(),
	}
	if os.Geteuid() == 0 {
		// OS fingerprinting needs raw sockets
		options = append(options, nmap.WithOSDetection())
	}
	return Scanner{
		workers: 1,
		options: options,
	}
}

// FromConfig applies the scan section of the configuration
func FromConfig(cfg model.Scan) Scanner {
	s := New().
		WithWorkers(cfg.Workers).
		WithDeadline(cfg.Deadline.Duration).
		WithHostTimeout(10 * cfg.ProbeTimeout() * time.Duration(max(1, len(cfg.Ports))))
	if cfg.Nmap != nil {
		s = s.WithNmapBinary(*cfg.Nmap)
	}
	for _, p := range cfg.Ports {
		s = s.WithPorts(strconv.Itoa(p))
	}
	if cfg.Rate > 0 {
		s.maxRate = max(1, int(cfg.Rate))
	}
	s.reportUnresponsive = cfg.ReportUnresponsive
	return s
}

func (s Scanner) WithNmapBinary(nmap string) Scanner {
	s.nmap = nmap
	return s
}

func (s Scanner) WithPorts(defs ...string) Scanner {
	ret := s
	ret.ports = append(append([]string(nil), ret.ports...), defs...)
	return ret
}

func (s Scanner) WithWorkers(n int) Scanner {
	s.workers = max(1, n)
	return s
}

func (s Scanner) WithHostTimeout(d time.Duration) Scanner {
	s.hostTimeout = d
	return s
}

func (s Scanner) WithDeadline(d time.Duration) Scanner {
	s.deadline = d
	return s
}

type outcome struct {
	record model.HostRecord
	report bool
	cut    bool
}

// Discover scans targets with at most workers nmap processes at once. It has
// the same deadline semantics as netscan.Scanner.Discover.
func (s Scanner) Discover(ctx context.Context, targets []netscan.Target) (netscan.ScanResult, error) {
	res := netscan.ScanResult{Requested: len(targets)}
	if len(targets) == 0 {
		return res, nil
	}

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if s.deadline > 0 {
		dctx, cancel = context.WithTimeout(ctx, s.deadline)
	}
	defer cancel()

	seq := func(yield func(netscan.Target, error) bool) {
		for _, t := range targets {
			if dctx.Err() != nil {
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}

	pmap := parallel.NewMap(ctx, min(len(targets), s.workers), func(_ context.Context, t netscan.Target) (outcome, error) {
		rec, err := s.Detect(dctx, t)
		if err != nil {
			cut := dctx.Err() != nil
			state := model.Unreachable
			if cut {
				state = model.Timeout
			} else {
				slog.WarnContext(ctx, "nmap scan failed", "target", t.Addr, "error", err)
			}
			return outcome{
				record: model.HostRecord{IP: t.Addr, Hostname: t.Hostname, Reachability: state},
				report: t.Explicit || s.reportUnresponsive || cut,
				cut:    cut,
			}, nil
		}
		report := rec.Reachability == model.Reachable || t.Explicit || s.reportUnresponsive
		return outcome{record: rec, report: report}, nil
	})

	cut := false
	for out, err := range pmap.Iter(seq) {
		if err != nil {
			continue
		}
		cut = cut || out.cut
		if out.report {
			res.Hosts = append(res.Hosts, out.record)
		}
		res.Probed++
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Incomplete = cut || res.Probed < len(targets)
	slices.SortFunc(res.Hosts, func(a, b model.HostRecord) int {
		return a.IP.Compare(b.IP)
	})
	return res, nil
}

// Detect scans a single target. A host nmap reports as down is UNREACHABLE.
func (s Scanner) Detect(ctx context.Context, target netscan.Target) (model.HostRecord, error) {
	addr := target.Addr
	options := slices.Clone(s.options)
	if s.nmap != "" {
		options = append(options, nmap.WithBinaryPath(s.nmap))
	}

	ports := s.ports
	if ports == nil {
		ports = []string{"1-1024"}
	}
	options = append(options, nmap.WithPorts(ports...))
	options = append(options, nmap.WithTargets(addr.String()))

	if addr.Is6() {
		options = append(options, nmap.WithIPv6Scanning())
	}
	if s.hostTimeout > 0 {
		options = append(options, nmap.WithHostTimeout(s.hostTimeout))
	}
	if s.maxRate > 0 {
		options = append(options, nmap.WithMaxRate(s.maxRate))
	}

	logCtx := log.ContextAttrs(
		ctx,
		slog.String("scanner", "nmap"),
		slog.GroupAttrs(
			"options",
			slog.String("nmap", s.nmap),
			slog.Any("ports", ports),
		),
		slog.String("target", addr.String()),
	)
	hosts, err := scan(logCtx, options)
	if err != nil {
		return model.HostRecord{}, fmt.Errorf("nmap scan: %w", err)
	}

	for _, h := range hosts {
		rec := HostToRecord(h)
		if rec.IP == addr {
			if rec.Hostname == "" {
				rec.Hostname = target.Hostname
			}
			return rec, nil
		}
	}
	return model.HostRecord{IP: addr, Hostname: target.Hostname, Reachability: model.Unreachable}, nil
}

func scan(ctx context.Context, options []nmap.Option) ([]nmap.Host, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("creating nmap scanner: %w", err)
	}

	now := time.Now()
	slog.DebugContext(ctx, "scan started")
	result, warningsp, err := scanner.Run()
	if err != nil {
		slog.DebugContext(ctx, "scan failed", "error", err)
		return nil, err
	}

	slog.DebugContext(ctx, "scan finished", "elapsed", time.Since(now).String(), "hosts", len(result.Hosts))

	if warningsp != nil {
		for _, warn := range *warningsp {
			slog.WarnContext(ctx, "scan", "warning", warn)
		}
	}
	return result.Hosts, nil
}

// HostToRecord converts an nmap host into the raw signals used by fingerprinting.
// Open ports get a banner built from the detected service, OS matches become guesses.
func HostToRecord(host nmap.Host) model.HostRecord {
	rec := model.HostRecord{
		Reachability: model.Unreachable,
	}
	for _, a := range host.Addresses {
		if a.AddrType == "mac" {
			continue
		}
		if addr, err := netip.ParseAddr(a.Addr); err == nil {
			rec.IP = addr.Unmap()
			break
		}
	}
	if len(host.Hostnames) > 0 {
		rec.Hostname = host.Hostnames[0].Name
	}
	if strings.EqualFold(host.Status.State, "up") {
		rec.Reachability = model.Reachable
	}

	for _, port := range host.Ports {
		if !strings.EqualFold(port.State.State, "open") || !strings.EqualFold(port.Protocol, "tcp") {
			continue
		}
		name := port.Service.Name
		if name == "" {
			name = netscan.ServiceName(port.ID)
		}
		rec.Ports = append(rec.Ports, model.PortSignal{
			Port:    port.ID,
			Service: name,
			Banner:  banner(port.Service),
		})
	}

	for _, m := range host.OS.Matches {
		guess := model.OSGuess{
			Name:     m.Name,
			Accuracy: m.Accuracy,
		}
		if len(m.Classes) > 0 {
			guess.Vendor = m.Classes[0].Vendor
			guess.Family = m.Classes[0].Family
			guess.Generation = m.Classes[0].OSGeneration
		}
		rec.OSGuesses = append(rec.OSGuesses, guess)
	}
	return rec
}

// banner renders the version detection result like nmap prints it:
// "OpenSSH 8.2p1 Ubuntu 4ubuntu0.5 (Ubuntu Linux; protocol 2.0)"
func banner(svc nmap.Service) string {
	var parts []string
	for _, p := range []string{svc.Product, svc.Version} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	var extra []string
	if svc.OSType != "" {
		extra = append(extra, svc.OSType)
	}
	if svc.ExtraInfo != "" {
		extra = append(extra, svc.ExtraInfo)
	}
	if len(extra) > 0 {
		parts = append(parts, "("+strings.Join(extra, "; ")+")")
	}
	return strings.Join(parts, " ")
}
