// Package fingerprint infers the operating system of a host from raw scan signals.
package fingerprint

import (
	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Fingerprinter evaluates an ordered list of rules against a HostRecord
type Fingerprinter struct {
	rules []Rule
}

// New returns a Fingerprinter with given rules, DefaultRules are used when none are given
func New(rules ...Rule) Fingerprinter {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return Fingerprinter{rules: rules}
}

// Infer returns the fingerprint of the matching rule with the highest confidence.
// Every rule is evaluated, on equal confidence the earlier rule wins.
// A host no rule matches gets model.UnknownFingerprint.
func (f Fingerprinter) Infer(host model.HostRecord) model.Fingerprint {
	best := model.UnknownFingerprint()
	for _, rule := range f.rules {
		fp, ok := rule.match(host)
		if !ok {
			continue
		}
		if fp.Confidence > best.Confidence {
			best = fp
		}
	}
	return best
}

// Infer uses DefaultRules
func Infer(host model.HostRecord) model.Fingerprint {
	return New().Infer(host)
}
