// Package report assembles classified findings into an AuditReport and renders it.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/google/uuid"
)

// Exit statuses derived from a report
const (
	ExitOK         = 0
	ExitWarning    = 1
	ExitCritical   = 2
	ExitIncomplete = 3
	// ExitConfig is returned for configuration errors, no report is produced
	ExitConfig = 10
)

// Meta describes the scan the findings come from
type Meta struct {
	ID          string
	GeneratedAt time.Time
	Targets     string
	Requested   int
	Probed      int
	Incomplete  bool
}

// Assemble sorts the findings and derives the summary and recommendations.
// The input slice is not modified.
func Assemble(findings []model.Finding, ref time.Time, meta Meta) model.AuditReport {
	sorted := slices.Clone(findings)
	Sort(sorted)

	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.GeneratedAt.IsZero() {
		meta.GeneratedAt = time.Now()
	}
	return model.AuditReport{
		ID:              meta.ID,
		ReferenceDate:   model.Date(ref),
		GeneratedAt:     meta.GeneratedAt.UTC(),
		Targets:         meta.Targets,
		Requested:       meta.Requested,
		Probed:          meta.Probed,
		Analyzed:        len(sorted),
		Incomplete:      meta.Incomplete,
		Summary:         Summarize(sorted),
		Findings:        sorted,
		Recommendations: Recommend(sorted),
	}
}

// Sort orders findings by status severity, then the most urgent first, then by address
func Sort(findings []model.Finding) {
	slices.SortStableFunc(findings, compare)
}

func compare(a, b model.Finding) int {
	return cmp.Or(
		cmp.Compare(a.Status.Rank(), b.Status.Rank()),
		cmp.Compare(a.Urgency(), b.Urgency()),
		a.Host.IP.Compare(b.Host.IP),
	)
}

// Summarize counts findings per status
func Summarize(findings []model.Finding) model.Summary {
	var s model.Summary
	for _, f := range findings {
		switch f.Status {
		case model.StatusCritical:
			s.Critical++
		case model.StatusWarning:
			s.Warning++
		case model.StatusSupported:
			s.Supported++
		default:
			s.Unknown++
		}
		s.Total++
	}
	return s
}

// Recommend returns one action per critical or warning finding in the order of findings,
// followed by a single request to verify all unidentified hosts manually.
func Recommend(findings []model.Finding) []model.Recommendation {
	ret := []model.Recommendation{}
	var unknown []string
	for _, f := range findings {
		switch f.Status {
		case model.StatusCritical:
			ret = append(ret, model.Recommendation{
				Level:        model.LevelCritical,
				Hosts:        []string{f.Host.IP.String()},
				Product:      product(f),
				Message:      fmt.Sprintf("replace %s urgently: %s", product(f), f.Message),
				Alternatives: slices.Clone(f.Alternatives()),
			})
		case model.StatusWarning:
			ret = append(ret, model.Recommendation{
				Level:        model.LevelWarning,
				Hosts:        []string{f.Host.IP.String()},
				Product:      product(f),
				Message:      fmt.Sprintf("plan the migration of %s: %s", product(f), f.Message),
				Alternatives: slices.Clone(f.Alternatives()),
			})
		case model.StatusUnknown:
			unknown = append(unknown, f.Host.IP.String())
		}
	}
	if len(unknown) > 0 {
		ret = append(ret, model.Recommendation{
			Level:   model.LevelInfo,
			Hosts:   unknown,
			Message: fmt.Sprintf("verify %d unidentified %s manually", len(unknown), plural(len(unknown), "host")),
		})
	}
	return ret
}

func product(f model.Finding) string {
	if f.Entry != nil {
		return f.Entry.Name()
	}
	return f.Fingerprint.String()
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// ExitCode maps a report to the process exit status used by monitoring:
// an incomplete scan or a report with only unknown findings is 3, any critical
// finding is 2, any warning is 1 and 0 otherwise.
func ExitCode(r model.AuditReport) int {
	s := r.Summary
	switch {
	case r.Incomplete:
		return ExitIncomplete
	case s.Total > 0 && s.Unknown == s.Total:
		return ExitIncomplete
	case s.Critical > 0:
		return ExitCritical
	case s.Warning > 0:
		return ExitWarning
	default:
		return ExitOK
	}
}

// StatusLine is a one line summary suitable for logs and monitoring output
func StatusLine(r model.AuditReport) string {
	var sb strings.Builder
	switch ExitCode(r) {
	case ExitOK:
		sb.WriteString("OK")
	case ExitWarning:
		sb.WriteString("WARNING")
	case ExitCritical:
		sb.WriteString("CRITICAL")
	default:
		sb.WriteString("UNKNOWN")
	}
	fmt.Fprintf(&sb, " - %d hosts analyzed: %d critical, %d warning, %d unknown, %d supported",
		r.Summary.Total, r.Summary.Critical, r.Summary.Warning, r.Summary.Unknown, r.Summary.Supported)
	if r.Incomplete {
		sb.WriteString(" (incomplete scan)")
	}
	return sb.String()
}
