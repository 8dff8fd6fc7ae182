// Package netscan discovers live hosts and collects raw signals for fingerprinting:
// open ports with banners, TTL and latency of the liveness probe, reverse DNS
// names and the SNMP sysDescr.
package netscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/parallel"
	"golang.org/x/time/rate"
)

// Options tune a Scanner. Zero values fall back to the defaults of the configuration.
type Options struct {
	Ports         []uint16
	LivenessPorts []uint16
	// Timeout bounds every single connect and banner read
	Timeout time.Duration
	// Deadline bounds the whole discovery, zero means no limit
	Deadline time.Duration
	Workers  int
	// Rate is the number of probes per second, zero is unlimited
	Rate               float64
	ICMP               bool
	ReportUnresponsive bool
	Probes             map[uint16]ProbeKind
	SNMP               *SNMPOptions
	Resolver           *Resolver
	// Dial opens TCP connections, nil means a net.Dialer bounded by Timeout
	Dial DialFunc
}

// DialFunc has the signature of net.Dialer.DialContext
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ScanResult is the outcome of Discover
type ScanResult struct {
	Hosts      []model.HostRecord
	Requested  int
	Probed     int
	Incomplete bool
}

// OptionsFromConfig converts the scan section of the configuration
func OptionsFromConfig(cfg model.Scan) (Options, error) {
	opts := Options{
		Timeout:            cfg.ProbeTimeout(),
		Deadline:           cfg.Deadline.Duration,
		Workers:            cfg.Workers,
		Rate:               cfg.Rate,
		ICMP:               cfg.ICMP,
		ReportUnresponsive: cfg.ReportUnresponsive,
	}
	var err error
	if opts.Ports, err = ports(cfg.Ports); err != nil {
		return Options{}, err
	}
	if opts.LivenessPorts, err = ports(cfg.LivenessPorts); err != nil {
		return Options{}, err
	}
	if opts.Probes, err = probes(cfg.Probes); err != nil {
		return Options{}, err
	}
	if cfg.SNMP != nil && cfg.SNMP.Enabled {
		opts.SNMP = &SNMPOptions{
			Community: cfg.SNMP.Community,
			Port:      uint16(cfg.SNMP.Port),
			Timeout:   cfg.SNMP.Timeout.Duration,
		}
		if opts.SNMP.Port == 0 {
			opts.SNMP.Port = 161
		}
		if opts.SNMP.Timeout <= 0 {
			opts.SNMP.Timeout = opts.Timeout
		}
	}
	if cfg.DNS.Enabled {
		var server string
		if cfg.DNS.Server != nil {
			server = *cfg.DNS.Server
		}
		r, err := NewResolver(server, opts.Timeout)
		if err != nil {
			// reverse lookups are optional signals
			slog.Warn("reverse dns disabled", "error", err)
		} else {
			opts.Resolver = r
		}
	}
	return opts, nil
}

// probes overrides DefaultProbes with the configured ones
func probes(in map[string]string) (map[uint16]ProbeKind, error) {
	if len(in) == 0 {
		return nil, nil
	}
	ret := maps.Clone(DefaultProbes)
	for key, name := range in {
		port, err := strconv.ParseUint(key, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("%w: invalid probe port %q", model.ErrConfig, key)
		}
		kind, err := ParseProbeKind(name)
		if err != nil {
			return nil, err
		}
		ret[uint16(port)] = kind
	}
	return ret, nil
}

func ports(in []int) ([]uint16, error) {
	ret := make([]uint16, 0, len(in))
	for _, p := range in {
		if p < 1 || p > math.MaxUint16 {
			return nil, fmt.Errorf("%w: invalid port %d", model.ErrConfig, p)
		}
		if !slices.Contains(ret, uint16(p)) {
			ret = append(ret, uint16(p))
		}
	}
	return ret, nil
}

// Scanner probes targets with plain TCP connects
type Scanner struct {
	opts    Options
	limiter *rate.Limiter
}

func New(opts Options) *Scanner {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Probes == nil {
		opts.Probes = DefaultProbes
	}
	if len(opts.LivenessPorts) == 0 {
		opts.LivenessPorts = opts.Ports
	}
	if opts.Dial == nil {
		d := &net.Dialer{Timeout: opts.Timeout}
		opts.Dial = d.DialContext
	}
	s := &Scanner{opts: opts}
	if opts.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), max(1, int(opts.Rate)))
	}
	return s
}

// wait blocks until the rate limiter permits the next probe
func (s *Scanner) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// the next token comes after the deadline
			<-ctx.Done()
		}
		return ctx.Err()
	}
	return nil
}

type hostOutcome struct {
	record model.HostRecord
	report bool
	cut    bool
}

// Discover probes all targets with at most Options.Workers hosts at once.
// When the deadline passes, outstanding probes are cancelled and the hosts
// collected so far are returned with Incomplete set. Hosts are sorted by address.
// Only a cancelled parent context is returned as an error.
func (s *Scanner) Discover(ctx context.Context, targets []Target) (ScanResult, error) {
	res := ScanResult{Requested: len(targets)}
	if len(targets) == 0 {
		return res, nil
	}

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.Deadline > 0 {
		dctx, cancel = context.WithTimeout(ctx, s.opts.Deadline)
	}
	defer cancel()

	seq := func(yield func(Target, error) bool) {
		for _, t := range targets {
			if dctx.Err() != nil {
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}

	workers := min(len(targets), s.opts.Workers)
	pmap := parallel.NewMap(ctx, workers, func(_ context.Context, t Target) (hostOutcome, error) {
		return s.probeHost(dctx, t), nil
	})

	cut := false
	for out, err := range pmap.Iter(seq) {
		if err != nil {
			continue
		}
		if out.cut {
			cut = true
		}
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
	if res.Incomplete {
		slog.WarnContext(ctx, "discovery deadline exceeded",
			"requested", res.Requested, "probed", res.Probed, "deadline", s.opts.Deadline)
	}
	slog.DebugContext(ctx, "discovery finished",
		"requested", res.Requested, "probed", res.Probed, "reported", len(res.Hosts))
	return res, nil
}

func (s *Scanner) probeHost(ctx context.Context, t Target) hostOutcome {
	rec := model.HostRecord{IP: t.Addr, Hostname: t.Hostname}

	live := s.liveness(ctx, t.Addr)
	rec.Reachability = live.state
	rec.TTL = live.ttl
	rec.Latency = live.rtt

	if !live.alive {
		cut := ctx.Err() != nil
		if cut {
			rec.Reachability = model.Timeout
		}
		return hostOutcome{
			record: rec,
			report: t.Explicit || s.opts.ReportUnresponsive || cut,
			cut:    cut,
		}
	}

	for _, port := range s.opts.Ports {
		if ctx.Err() != nil {
			break
		}
		sig, err := s.probePort(ctx, t.Addr, port)
		switch {
		case err == nil:
			rec.Ports = append(rec.Ports, sig)
		case errors.Is(err, errClosed):
		default:
			slog.DebugContext(ctx, "probe failed", "addr", t.Addr, "port", port, "error", err)
		}
	}

	if ctx.Err() != nil {
		// ports found before the deadline are kept
		rec.Reachability = model.Timeout
		return hostOutcome{record: rec, report: true, cut: true}
	}

	if s.opts.Resolver != nil && rec.Hostname == "" {
		if name, err := s.opts.Resolver.Reverse(ctx, t.Addr); err == nil {
			rec.Hostname = name
		}
	}
	if s.opts.SNMP != nil {
		descr, err := SysDescr(ctx, t.Addr, *s.opts.SNMP)
		if err != nil {
			slog.DebugContext(ctx, "snmp failed", "addr", t.Addr, "error", err)
		}
		rec.SysDescr = descr
	}
	return hostOutcome{record: rec, report: true}
}
