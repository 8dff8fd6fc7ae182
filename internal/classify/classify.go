// Package classify assigns an obsolescence Status to a fingerprinted host.
package classify

import (
	"fmt"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/eol"
	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Thresholds are expressed in whole days before the end of life
type Thresholds struct {
	WarningDays     int
	CriticalDays    int
	ConfidenceFloor float64
}

// DefaultThresholds match the default configuration
var DefaultThresholds = Thresholds{
	WarningDays:     180,
	CriticalDays:    30,
	ConfidenceFloor: 0.3,
}

func ThresholdsFromConfig(cfg model.Thresholds) Thresholds {
	return Thresholds{
		WarningDays:     cfg.WarningDays,
		CriticalDays:    cfg.CriticalDays,
		ConfidenceFloor: cfg.ConfidenceFloor,
	}
}

// Classify returns the status of a host and the number of days until the end of life,
// or since it when the reference date is past it. Both dates are compared as civil dates in UTC.
func Classify(fp model.Fingerprint, entry *model.EOLEntry, th Thresholds, ref time.Time) (model.Status, int) {
	if entry == nil || fp.Confidence < th.ConfidenceFloor {
		return model.StatusUnknown, 0
	}

	delta := days(model.Date(ref), model.Date(entry.EOLDate))
	var status model.Status
	var count int
	switch {
	case delta < 0:
		status, count = model.StatusCritical, -delta
	case delta <= th.CriticalDays:
		status, count = model.StatusCritical, delta
	case delta <= th.WarningDays:
		status, count = model.StatusWarning, delta
	default:
		status, count = model.StatusSupported, delta
	}

	if ext := entry.ExtendedSupport; ext != nil && !model.Date(ref).After(model.Date(*ext)) {
		status = status.Demote()
	}
	return status, count
}

// days returns the number of calendar days from a to b
func days(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

// Classifier builds findings from host records with a shared knowledge base
type Classifier struct {
	kb  *eol.KnowledgeBase
	th  Thresholds
	ref time.Time
}

func New(kb *eol.KnowledgeBase, th Thresholds, ref time.Time) Classifier {
	return Classifier{kb: kb, th: th, ref: model.Date(ref)}
}

// Finding looks the fingerprint up in the knowledge base and classifies it
func (c Classifier) Finding(host model.HostRecord, fp model.Fingerprint) model.Finding {
	m := c.kb.LookupFingerprint(fp)
	status, count := Classify(fp, m.Entry, c.th, c.ref)
	f := model.Finding{
		Host:        host,
		Fingerprint: fp,
		Status:      status,
		DayCount:    count,
	}
	if status != model.StatusUnknown {
		f.Entry = m.Entry
		f.Overdue = c.ref.After(m.Entry.EOLDate)
	}
	f.FamilyRisk = m.FamilyOnly && fp.Confidence >= c.th.ConfidenceFloor
	f.Message = c.message(f)
	return f
}

func (c Classifier) message(f model.Finding) string {
	fp := f.Fingerprint
	if f.Status == model.StatusUnknown {
		switch {
		case !fp.Known() && f.Host.Reachability == model.Unreachable:
			return "host unreachable, operating system not identified"
		case !fp.Known() && f.Host.Reachability == model.Timeout:
			return "probing timed out, operating system not identified"
		case !fp.Known():
			return "operating system not identified"
		case fp.Confidence < c.th.ConfidenceFloor:
			return fmt.Sprintf("%s: confidence %.2f is below %.2f, verify manually", fp, fp.Confidence, c.th.ConfidenceFloor)
		case f.FamilyRisk:
			return fmt.Sprintf("%s: likely unsupported family, version unconfirmed", fp)
		default:
			return fmt.Sprintf("%s: not found in the knowledge base", fp)
		}
	}

	ref, e := c.ref, f.Entry
	ext := e.ExtendedSupport
	switch {
	case f.Overdue && ext != nil && !ref.After(*ext):
		return fmt.Sprintf("end of life since %d days, extended support until %s (%d days)",
			f.DayCount, ext.Format(model.DateLayout), days(ref, *ext))
	case f.Overdue:
		return fmt.Sprintf("end of life since %d days, replace urgently", f.DayCount)
	case f.Status == model.StatusCritical:
		return fmt.Sprintf("end of life in %d days, plan the migration now", f.DayCount)
	case f.Status == model.StatusWarning:
		return fmt.Sprintf("end of life in %d days, migration required", f.DayCount)
	default:
		return fmt.Sprintf("supported until %s (%d days)", e.EOLDate.Format(model.DateLayout), f.DayCount)
	}
}
