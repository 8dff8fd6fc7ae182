package model

import "strings"

const (
	FamilyUnknown = "Unknown"
	FamilyWindows = "Windows"
	FamilyLinux   = "Linux"
	FamilyESXi    = "ESXi"
	FamilyNetwork = "Network device"
)

// Fingerprint is an inferred operating system identity of a host.
// Zero confidence together with FamilyUnknown is a valid result.
type Fingerprint struct {
	Family     string  `json:"family"`
	Vendor     string  `json:"vendor,omitempty"`
	Product    string  `json:"product,omitempty"`
	Version    string  `json:"version,omitempty"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule,omitempty"`
	Evidence   string  `json:"evidence,omitempty"`
}

func UnknownFingerprint() Fingerprint {
	return Fingerprint{Family: FamilyUnknown}
}

func (f Fingerprint) Known() bool {
	return f.Family != "" && f.Family != FamilyUnknown
}

// String returns a human readable identity, eg "Ubuntu 20.04"
func (f Fingerprint) String() string {
	if !f.Known() {
		return FamilyUnknown
	}
	name := f.Product
	if name == "" {
		name = f.Family
	}
	return strings.TrimSpace(name + " " + f.Version)
}
