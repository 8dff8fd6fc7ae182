package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/fatih/color"
)

type palette struct {
	critical *color.Color
	warning  *color.Color
	unknown  *color.Color
	ok       *color.Color
	header   *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		critical: color.New(color.FgRed, color.Bold),
		warning:  color.New(color.FgYellow),
		unknown:  color.New(color.FgCyan),
		ok:       color.New(color.FgGreen),
		header:   color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.critical, p.warning, p.unknown, p.ok, p.header} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) status(s model.Status) *color.Color {
	switch s {
	case model.StatusCritical:
		return p.critical
	case model.StatusWarning:
		return p.warning
	case model.StatusSupported:
		return p.ok
	default:
		return p.unknown
	}
}

func (p palette) level(l model.Level) *color.Color {
	switch l {
	case model.LevelCritical:
		return p.critical
	case model.LevelWarning:
		return p.warning
	default:
		return p.unknown
	}
}

func symbol(s model.Status) string {
	switch s {
	case model.StatusCritical:
		return "[X]"
	case model.StatusWarning:
		return "[!]"
	case model.StatusSupported:
		return "[OK]"
	default:
		return "[?]"
	}
}

const rule = "============================================================"

// WriteText renders a human readable report
func WriteText(w io.Writer, r model.AuditReport, colored bool) error {
	p := newPalette(colored)
	tw := &textWriter{w: w}

	tw.line(p.header.Sprint(rule))
	tw.line(p.header.Sprint("  OBSOLESCENCE AUDIT REPORT"))
	tw.line(p.header.Sprint(rule))
	tw.printf("Report:         %s\n", r.ID)
	tw.printf("Reference date: %s\n", r.ReferenceDate.Format(model.DateLayout))
	tw.printf("Generated at:   %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	if r.Targets != "" {
		tw.printf("Targets:        %s\n", r.Targets)
	}
	tw.printf("Hosts:          %d requested, %d probed, %d analyzed\n", r.Requested, r.Probed, r.Analyzed)
	if r.Incomplete {
		tw.line(p.warning.Sprint("WARNING: the scan did not finish before its deadline, results are incomplete"))
	}

	tw.line("")
	tw.line(p.header.Sprint("SUMMARY"))
	for _, s := range model.Statuses {
		tw.printf("  %-5s %s %d\n", symbol(s), p.status(s).Sprint(padRight(string(s), 10)), r.Summary.Count(s))
	}
	tw.printf("  %-5s %s %d\n", "", padRight("TOTAL", 10), r.Summary.Total)

	if len(r.Findings) > 0 {
		tw.line("")
		tw.line(p.header.Sprint("FINDINGS"))
	}
	for _, f := range r.Findings {
		name := f.Host.IP.String()
		if f.Host.Hostname != "" {
			name += " (" + f.Host.Hostname + ")"
		}
		tw.printf("  %-5s %s %s\n", symbol(f.Status), p.status(f.Status).Sprint(padRight(string(f.Status), 10)), name)
		tw.printf("        OS: %s", f.Fingerprint)
		if f.Fingerprint.Known() {
			tw.printf(" (confidence %.2f)", f.Fingerprint.Confidence)
		}
		tw.line("")
		if f.Entry != nil {
			tw.printf("        End of life: %s", f.Entry.EOLDate.Format(model.DateLayout))
			if ext := f.Entry.ExtendedSupport; ext != nil {
				tw.printf(", extended support: %s", ext.Format(model.DateLayout))
			}
			tw.line("")
		}
		tw.printf("        %s\n", f.Message)
	}

	if len(r.Recommendations) > 0 {
		tw.line("")
		tw.line(p.header.Sprint("RECOMMENDATIONS"))
	}
	for _, rec := range r.Recommendations {
		tw.printf("  %s %s: %s\n", p.level(rec.Level).Sprint(padRight(string(rec.Level), 9)), strings.Join(rec.Hosts, ", "), rec.Message)
		if len(rec.Alternatives) > 0 {
			tw.printf("            alternatives: %s\n", strings.Join(rec.Alternatives, ", "))
		}
	}
	tw.line(p.header.Sprint(rule))
	tw.line(StatusLine(r))
	return tw.err
}

// textWriter remembers the first write error
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) line(s string) {
	t.printf("%s\n", s)
}

// padRight pads before coloring so escape sequences do not break the alignment
func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
