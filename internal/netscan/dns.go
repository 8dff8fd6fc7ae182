package netscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var errNoRecord = errors.New("no record")

// Resolver sends queries to a single DNS server
type Resolver struct {
	client *dns.Client
	server string
}

// NewResolver uses server (host:port), or the first name server from /etc/resolv.conf when empty
func NewResolver(server string, timeout time.Duration) (*Resolver, error) {
	if server == "" {
		cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("reading resolv.conf: %w", err)
		}
		if len(cfg.Servers) == 0 {
			return nil, errors.New("resolv.conf: no name servers")
		}
		server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	}
	return &Resolver{
		client: &dns.Client{Net: "udp", Timeout: timeout},
		server: server,
	}, nil
}

// Reverse returns the name from the PTR record of addr
func (r *Resolver) Reverse(ctx context.Context, addr netip.Addr) (string, error) {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return "", err
	}
	answers, err := r.query(ctx, arpa, dns.TypePTR)
	if err != nil {
		return "", err
	}
	for _, rr := range answers {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", errNoRecord
}

// Lookup returns A and AAAA records of host
func (r *Resolver) Lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	var ret []netip.Addr
	var errs []error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answers, err := r.query(ctx, dns.Fqdn(host), qtype)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, rr := range answers {
			switch v := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(v.A); ok {
					ret = append(ret, a.Unmap())
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(v.AAAA); ok {
					ret = append(ret, a)
				}
			}
		}
	}
	if len(ret) == 0 {
		if err := errors.Join(errs...); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", host, errNoRecord)
	}
	return ret, nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, err
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s: %s", name, dns.RcodeToString[in.Rcode])
	}
	return in.Answer, nil
}
