package eol

import (
	"regexp"
	"strings"
)

// Identity is an operating system identity parsed from a free text
type Identity struct {
	Family  string
	Vendor  string
	Product string
	Version string
}

var reVersion = regexp.MustCompile(`(?i)\d+(?:\.\d+)*(?:\s*r2)?`)

// ParseOSName recognizes names like "Windows Server 2012 R2 Standard", "VMware ESXi 6.5.0"
// or "Debian GNU/Linux 11 (bullseye)". The earliest mentioned product wins, the longest
// alias on the same position. It returns false if no known product is mentioned.
func ParseOSName(text string) (Identity, bool) {
	folded := fold(text)
	best, bestIdx := "", -1
	for alias := range productAliases {
		idx := strings.Index(folded, alias)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(alias) > len(best)) {
			best, bestIdx = alias, idx
		}
	}
	if bestIdx < 0 {
		return Identity{}, false
	}
	product := productAliases[best]
	return Identity{
		Family:  productFamilies[product],
		Vendor:  productVendors[product],
		Product: product,
		Version: reVersion.FindString(folded[bestIdx+len(best):]),
	}, true
}
