package model

import (
	"net/netip"
	"slices"
	"time"
)

// Reachability is the outcome of probing a single address
type Reachability string

const (
	Reachable   Reachability = "REACHABLE"
	Unreachable Reachability = "UNREACHABLE"
	Timeout     Reachability = "TIMEOUT"
)

// PortSignal is a raw observation of an open TCP port
type PortSignal struct {
	Port    uint16        `json:"port"`
	Service string        `json:"service,omitempty"`
	Banner  string        `json:"banner,omitempty"`
	Latency time.Duration `json:"latency_ns"`
}

// OSGuess is an operating system match reported by an external engine (nmap -O)
type OSGuess struct {
	Name       string `json:"name"`
	Accuracy   int    `json:"accuracy"`
	Vendor     string `json:"vendor,omitempty"`
	Family     string `json:"family,omitempty"`
	Generation string `json:"generation,omitempty"`
}

// HostRecord holds everything the scanner learned about one address.
// It is created by a scanner and never modified afterwards.
type HostRecord struct {
	IP           netip.Addr    `json:"ip"`
	Hostname     string        `json:"hostname,omitempty"`
	Reachability Reachability  `json:"reachability"`
	TTL          int           `json:"ttl,omitempty"`
	Latency      time.Duration `json:"latency_ns,omitempty"`
	Ports        []PortSignal  `json:"ports,omitempty"`
	SysDescr     string        `json:"sys_descr,omitempty"`
	OSGuesses    []OSGuess     `json:"os_guesses,omitempty"`
}

// Port returns the signal recorded for the given port
func (h HostRecord) Port(port uint16) (PortSignal, bool) {
	idx := slices.IndexFunc(h.Ports, func(p PortSignal) bool { return p.Port == port })
	if idx < 0 {
		return PortSignal{}, false
	}
	return h.Ports[idx], true
}

func (h HostRecord) HasPort(port uint16) bool {
	_, ok := h.Port(port)
	return ok
}

// Banners returns all non-empty banners in port order
func (h HostRecord) Banners() []string {
	ret := make([]string, 0, len(h.Ports))
	for _, p := range h.Ports {
		if p.Banner != "" {
			ret = append(ret, p.Banner)
		}
	}
	return ret
}

// Name returns hostname if known, ip address otherwise
func (h HostRecord) Name() string {
	if h.Hostname != "" {
		return h.Hostname
	}
	return h.IP.String()
}
