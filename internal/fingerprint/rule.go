package fingerprint

import (
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Kind selects which part of a HostRecord a Rule inspects
type Kind int

const (
	// KindBanner matches Pattern against service banners and the SNMP sysDescr
	KindBanner Kind = iota
	// KindSysDescr matches Pattern against the SNMP sysDescr only
	KindSysDescr
	// KindNmapOS matches Pattern against nmap OS guesses, confidence is scaled by the guess accuracy
	KindNmapOS
	// KindPortSet requires all Require ports open and all Forbid ports closed
	KindPortSet
	// KindTTL matches the observed TTL in [TTLMin, TTLMax]
	KindTTL
)

func (k Kind) String() string {
	switch k {
	case KindBanner:
		return "banner"
	case KindSysDescr:
		return "sysdescr"
	case KindNmapOS:
		return "nmap-os"
	case KindPortSet:
		return "ports"
	case KindTTL:
		return "ttl"
	default:
		return "unknown"
	}
}

// Candidate is an operating system identity proposed by a rule
type Candidate struct {
	Family  string
	Vendor  string
	Product string
	Version string
}

// Rule is a signature: a predicate of one Kind and the identity it implies
type Rule struct {
	Name       string
	Kind       Kind
	Candidate  Candidate
	Confidence float64

	// Pattern is used by text kinds. Version is taken from VersionGroups
	// joined by a space, and translated by VersionMap when it is set.
	// A version missing in VersionMap means no match.
	Pattern       *regexp.Regexp
	VersionGroups []int
	VersionMap    map[string]string

	Require []uint16
	Forbid  []uint16

	TTLMin int
	TTLMax int
}

func (r Rule) match(host model.HostRecord) (model.Fingerprint, bool) {
	switch r.Kind {
	case KindBanner:
		texts := host.Banners()
		if host.SysDescr != "" {
			texts = append(texts, host.SysDescr)
		}
		return r.matchTexts(texts, 1.0)
	case KindSysDescr:
		if host.SysDescr == "" {
			return model.Fingerprint{}, false
		}
		return r.matchTexts([]string{host.SysDescr}, 1.0)
	case KindNmapOS:
		// guesses may come in any order, the most accurate match wins
		var best model.Fingerprint
		found := false
		for _, guess := range host.OSGuesses {
			fp, ok := r.matchTexts([]string{guess.Name}, float64(guess.Accuracy)/100)
			if ok && (!found || fp.Confidence > best.Confidence) {
				best, found = fp, true
			}
		}
		return best, found
	case KindPortSet:
		if len(r.Require) == 0 {
			return model.Fingerprint{}, false
		}
		if !slices.ContainsFunc(r.Require, func(p uint16) bool { return !host.HasPort(p) }) &&
			!slices.ContainsFunc(r.Forbid, host.HasPort) {
			return r.fingerprint("", portsEvidence(r.Require), 1.0), true
		}
		return model.Fingerprint{}, false
	case KindTTL:
		if host.TTL > 0 && host.TTL >= r.TTLMin && host.TTL <= r.TTLMax {
			return r.fingerprint("", "ttl", 1.0), true
		}
		return model.Fingerprint{}, false
	default:
		return model.Fingerprint{}, false
	}
}

func (r Rule) matchTexts(texts []string, scale float64) (model.Fingerprint, bool) {
	if r.Pattern == nil {
		return model.Fingerprint{}, false
	}
	for _, text := range texts {
		m := r.Pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		version, ok := r.version(m)
		if !ok {
			continue
		}
		return r.fingerprint(version, evidence(text), scale), true
	}
	return model.Fingerprint{}, false
}

func (r Rule) version(m []string) (string, bool) {
	if len(r.VersionGroups) == 0 {
		return r.Candidate.Version, true
	}
	parts := make([]string, 0, len(r.VersionGroups))
	for _, g := range r.VersionGroups {
		if g < len(m) && m[g] != "" {
			parts = append(parts, m[g])
		}
	}
	version := strings.Join(parts, " ")
	if r.VersionMap == nil {
		return version, version != ""
	}
	mapped, ok := r.VersionMap[strings.ToLower(version)]
	return mapped, ok
}

func (r Rule) fingerprint(version, evidence string, scale float64) model.Fingerprint {
	if version == "" {
		version = r.Candidate.Version
	}
	return model.Fingerprint{
		Family:     r.Candidate.Family,
		Vendor:     r.Candidate.Vendor,
		Product:    r.Candidate.Product,
		Version:    version,
		Confidence: r.Confidence * scale,
		Rule:       r.Name,
		Evidence:   r.Kind.String() + ": " + evidence,
	}
}

const maxEvidence = 120

func evidence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxEvidence {
		return text[:maxEvidence]
	}
	return text
}

func portsEvidence(ports []uint16) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, strconv.Itoa(int(p)))
	}
	return strings.Join(parts, ",")
}
