package netscan

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Target is a single address to probe
type Target struct {
	Addr     netip.Addr
	Hostname string
	// Explicit is set for addresses named directly, they are reported even when unresponsive
	Explicit bool
}

// LookupFunc resolves a hostname to its addresses
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// ParseTargets expands CIDR blocks, addresses and hostnames. Each spec may hold
// several comma or space separated items. Network and broadcast addresses of IPv4
// blocks wider than /31 are skipped. Duplicates are removed, the order is kept.
// Any invalid item or more than maxTargets addresses is a configuration error.
func ParseTargets(ctx context.Context, specs []string, maxTargets int, lookup LookupFunc) ([]Target, error) {
	if lookup == nil {
		lookup = defaultLookup
	}
	var items []string
	for _, spec := range specs {
		items = append(items, strings.FieldsFunc(spec, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no scan targets", model.ErrConfig)
	}

	var ret []Target
	seen := make(map[netip.Addr]int)
	add := func(t Target) error {
		if idx, ok := seen[t.Addr]; ok {
			if t.Explicit && !ret[idx].Explicit {
				ret[idx].Explicit = true
				ret[idx].Hostname = t.Hostname
			}
			return nil
		}
		if maxTargets > 0 && len(ret) >= maxTargets {
			return fmt.Errorf("%w: more than %d scan targets", model.ErrConfig, maxTargets)
		}
		seen[t.Addr] = len(ret)
		ret = append(ret, t)
		return nil
	}

	for _, item := range items {
		switch {
		case strings.Contains(item, "/"):
			prefix, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid CIDR %q: %w", model.ErrConfig, item, err)
			}
			if err := expand(prefix.Masked(), add); err != nil {
				return nil, err
			}
		default:
			if addr, err := netip.ParseAddr(item); err == nil {
				if err := add(Target{Addr: addr.Unmap(), Explicit: true}); err != nil {
					return nil, err
				}
				continue
			}
			if !validHostname(item) {
				return nil, fmt.Errorf("%w: invalid scan target %q", model.ErrConfig, item)
			}
			addrs, err := lookup(ctx, item)
			if err != nil || len(addrs) == 0 {
				return nil, fmt.Errorf("%w: resolving %q: %v", model.ErrConfig, item, err)
			}
			if err := add(Target{Addr: preferIPv4(addrs).Unmap(), Hostname: item, Explicit: true}); err != nil {
				return nil, err
			}
		}
	}
	return ret, nil
}

func expand(prefix netip.Prefix, add func(Target) error) error {
	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 31 {
		return fmt.Errorf("%w: CIDR %s is too large", model.ErrConfig, prefix)
	}
	size := 1 << hostBits
	skipEnds := prefix.Addr().Is4() && hostBits > 1
	addr := prefix.Addr()
	for i := range size {
		if !(skipEnds && (i == 0 || i == size-1)) {
			if err := add(Target{Addr: addr}); err != nil {
				return err
			}
		}
		addr = addr.Next()
	}
	return nil
}

func validHostname(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(s, "."), ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return false
			}
		}
	}
	return true
}

func preferIPv4(addrs []netip.Addr) netip.Addr {
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a
		}
	}
	return addrs[0]
}

func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Spec joins target specs for a report header
func Spec(specs []string) string {
	return strings.Join(specs, ", ")
}
