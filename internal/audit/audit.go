// Package audit runs the obsolescence audit pipeline: target parsing, discovery,
// fingerprinting, knowledge base lookup, classification and report assembly.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/classify"
	"github.com/CZERTAINLY/eolaudit/internal/eol"
	"github.com/CZERTAINLY/eolaudit/internal/fingerprint"
	"github.com/CZERTAINLY/eolaudit/internal/log"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/CZERTAINLY/eolaudit/internal/nmap"
	"github.com/CZERTAINLY/eolaudit/internal/report"
)

// Discoverer collects host records for a list of targets
type Discoverer interface {
	Discover(ctx context.Context, targets []netscan.Target) (netscan.ScanResult, error)
}

type Audit struct {
	discoverer    Discoverer
	kb            *eol.KnowledgeBase
	fingerprinter fingerprint.Fingerprinter
	thresholds    classify.Thresholds
	maxTargets    int
	lookup        netscan.LookupFunc
	now           func() time.Time
}

func New(discoverer Discoverer, kb *eol.KnowledgeBase, th classify.Thresholds) *Audit {
	return &Audit{
		discoverer:    discoverer,
		kb:            kb,
		fingerprinter: fingerprint.New(),
		thresholds:    th,
		now:           time.Now,
	}
}

// FromConfig loads the knowledge base and creates the discovery engine
// selected by scan.engine
func FromConfig(ctx context.Context, cfg model.Config) (*Audit, error) {
	kb, err := eol.Load(ctx, cfg.KnowledgeBase)
	if err != nil {
		return nil, err
	}

	var (
		discoverer Discoverer
		lookup     netscan.LookupFunc
	)
	switch cfg.Scan.Engine {
	case model.EngineNmap:
		discoverer = nmap.FromConfig(cfg.Scan)
	case model.EngineConnect, "":
		opts, err := netscan.OptionsFromConfig(cfg.Scan)
		if err != nil {
			return nil, err
		}
		if opts.Resolver != nil {
			lookup = opts.Resolver.Lookup
		}
		discoverer = netscan.New(opts)
	default:
		return nil, fmt.Errorf("%w: unsupported scan engine %q", model.ErrConfig, cfg.Scan.Engine)
	}

	a := New(discoverer, kb, classify.ThresholdsFromConfig(cfg.Thresholds)).
		WithMaxTargets(cfg.Scan.MaxTargets).
		WithLookup(lookup)
	slog.DebugContext(ctx, "audit configured",
		"engine", cfg.Scan.Engine, "knowledge_base", kb.Len(), "thresholds", a.thresholds)
	return a, nil
}

func (a *Audit) WithMaxTargets(n int) *Audit {
	a.maxTargets = n
	return a
}

// WithLookup sets the hostname resolver, nil means the system resolver
func (a *Audit) WithLookup(lookup netscan.LookupFunc) *Audit {
	a.lookup = lookup
	return a
}

func (a *Audit) WithFingerprinter(f fingerprint.Fingerprinter) *Audit {
	a.fingerprinter = f
	return a
}

// WithClock replaces the source of the reference date
func (a *Audit) WithClock(now func() time.Time) *Audit {
	a.now = now
	return a
}

func (a *Audit) KnowledgeBase() *eol.KnowledgeBase {
	return a.kb
}

// Scan parses the target specification and discovers the hosts.
// Invalid targets fail with model.ErrConfig before anything is probed.
func (a *Audit) Scan(ctx context.Context, specs []string) (netscan.ScanResult, error) {
	ctx = log.ContextAttrs(ctx, slog.String("targets", netscan.Spec(specs)))
	targets, err := netscan.ParseTargets(ctx, specs, a.maxTargets, a.lookup)
	if err != nil {
		return netscan.ScanResult{}, err
	}
	slog.InfoContext(ctx, "discovery started", "addresses", len(targets))
	start := time.Now()
	res, err := a.discoverer.Discover(ctx, targets)
	if err != nil {
		return res, fmt.Errorf("discovery: %w", err)
	}
	slog.InfoContext(ctx, "discovery finished",
		"hosts", len(res.Hosts), "probed", res.Probed, "incomplete", res.Incomplete,
		"elapsed", time.Since(start).String())
	return res, nil
}

// Run scans the targets and builds the report. The reference date is taken
// once, so every host is classified against the same day.
func (a *Audit) Run(ctx context.Context, specs []string) (model.AuditReport, error) {
	res, err := a.Scan(ctx, specs)
	if err != nil {
		return model.AuditReport{}, err
	}
	return a.Analyze(ctx, res, netscan.Spec(specs)), nil
}

// Analyze fingerprints and classifies already discovered hosts
func (a *Audit) Analyze(ctx context.Context, res netscan.ScanResult, targets string) model.AuditReport {
	now := a.now()
	c := classify.New(a.kb, a.thresholds, now)

	findings := make([]model.Finding, 0, len(res.Hosts))
	for _, host := range res.Hosts {
		fp := a.fingerprinter.Infer(host)
		f := c.Finding(host, fp)
		slog.DebugContext(ctx, "host classified",
			"ip", host.IP, "os", fp.String(), "rule", fp.Rule, "confidence", fp.Confidence, "status", f.Status)
		findings = append(findings, f)
	}

	return report.Assemble(findings, now, report.Meta{
		GeneratedAt: now,
		Targets:     targets,
		Requested:   res.Requested,
		Probed:      res.Probed,
		Incomplete:  res.Incomplete,
	})
}

// Check classifies a single operating system given by its name
func (a *Audit) Check(name string) (model.Finding, error) {
	id, ok := eol.ParseOSName(name)
	if !ok {
		return model.Finding{}, fmt.Errorf("%q: %w", name, model.ErrNoMatch)
	}
	fp := model.Fingerprint{
		Family:     id.Family,
		Vendor:     id.Vendor,
		Product:    id.Product,
		Version:    id.Version,
		Confidence: 1,
		Rule:       "manual",
		Evidence:   name,
	}
	return classify.New(a.kb, a.thresholds, a.now()).Finding(model.HostRecord{}, fp), nil
}

// EntryStatus is a knowledge base entry classified at the reference date
type EntryStatus struct {
	Entry    model.EOLEntry
	Status   model.Status
	DayCount int
	Overdue  bool
}

// List classifies every knowledge base entry
func (a *Audit) List() []EntryStatus {
	now := model.Date(a.now())
	entries := a.kb.Entries()
	ret := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		fp := model.Fingerprint{Vendor: e.Vendor, Product: e.Product, Version: e.Version, Confidence: 1}
		status, days := classify.Classify(fp, &e, a.thresholds, now)
		ret = append(ret, EntryStatus{
			Entry:    e,
			Status:   status,
			DayCount: days,
			Overdue:  now.After(e.EOLDate),
		})
	}
	return ret
}
