package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	cue "cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one validation problem of a configuration file
type CueErrorDetail struct {
	Path    string // eg. thresholds.critical_days
	Code    string // unknown_field | missing_required | conflicting_values | invalid_enum | type_mismatch | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string // message reported by CUE
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// errRule maps a CUE message to a detail code, the first matching rule wins
type errRule struct {
	code    string
	re      *regexp.Regexp
	message func(field string) string
}

var errRules = []errRule{
	{"unknown_field", regexp.MustCompile(`(?i)not allowed|unknown field`),
		func(f string) string { return fmt.Sprintf("field %s is not known", f) }},
	{"missing_required", regexp.MustCompile(`(?i)incomplete value`),
		func(f string) string { return fmt.Sprintf("field %s is required", f) }},
	{"invalid_enum", regexp.MustCompile(`(?i)must be one of|expected one of|empty disjunction`),
		func(f string) string { return fmt.Sprintf("field %s has an unsupported value", f) }},
	{"conflicting_values", regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible|invalid value`),
		func(f string) string { return fmt.Sprintf("field %s has an invalid value", f) }},
	{"type_mismatch", regexp.MustCompile(`(?i)expected .* got .*`),
		func(f string) string { return fmt.Sprintf("field %s has a wrong type", f) }},
}

// pathHints explain constraints of individual fields
var pathHints = map[string]string{
	"thresholds.critical_days":      "must not exceed thresholds.warning_days",
	"thresholds.warning_days":       "number of days before the end of life, 0 or more",
	"thresholds.confidence_floor":   "must be between 0 and 1",
	"scan.ports":                    "ports are in range 1-65535",
	"scan.liveness_ports":           "ports are in range 1-65535",
	"scan.timeout":                  `duration like "2s" or "500ms"`,
	"scan.deadline":                 `duration like "10m"`,
	"scan.workers":                  "between 1 and 1024",
	"service.repository.auth.token": "required for static_token auth",
}

// enumPaths are config fields restricted to a fixed set of strings
var enumPaths = []string{
	"scan.engine",
	"report.format",
	"service.mode",
	"service.log",
	"service.repository.auth.type",
}

// CueErrDetails converts an error returned by LoadConfig to a list of human readable details.
// Errors not coming from CUE validation produce an empty list.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos := position(e)
		if pos.Filename == "" {
			continue
		}
		if _, ok := seen[pos]; ok {
			continue
		}
		seen[pos] = struct{}{}

		raw, _ := e.Msg()
		path := configPath(e.Path())
		code, msg := describe(raw, path)
		out = append(out, CueErrorDetail{
			Path:    path,
			Code:    code,
			Message: msg,
			Pos:     pos,
			Raw:     e.Error(),
		})
	}
	return out
}

func describe(raw, path string) (code, msg string) {
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	code, msg = "validation_error", raw
	for _, r := range errRules {
		if r.re.MatchString(raw) {
			code, msg = r.code, r.message(field)
			break
		}
	}
	if hint, ok := pathHints[path]; ok {
		msg += ": " + hint
	}
	if slices.Contains(enumPaths, path) {
		msg += enumHint(schema.LookupPath(cue.ParsePath(path)))
	}
	return code, msg
}

// enumHint lists the values of a disjunction and its default
func enumHint(v cue.Value) string {
	if !v.Exists() {
		return ""
	}
	var values []string
	if op, args := v.Expr(); op == cue.OrOp {
		for _, a := range args {
			if s, ok := stringValue(a); ok && !slices.Contains(values, s) {
				values = append(values, s)
			}
		}
	} else if s, ok := stringValue(v); ok {
		values = append(values, s)
	}
	if len(values) == 0 {
		return ""
	}
	hint := fmt.Sprintf(": possible values (%s)", strings.Join(values, ","))
	if d, ok := v.Default(); ok {
		if s, ok := stringValue(d); ok {
			hint += " (default " + s + ")"
		}
	}
	return hint
}

func stringValue(v cue.Value) (string, bool) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		return s, err == nil
	case cue.IntKind:
		i, err := v.Int64()
		return strconv.FormatInt(i, 10), err == nil
	default:
		return "", false
	}
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	return CueErrorPosition{}
}

// configPath drops the leading #Config definition
func configPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
