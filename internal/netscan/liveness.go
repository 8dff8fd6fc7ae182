package netscan

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	probing "github.com/prometheus-community/pro-bing"
)

var errNoReply = errors.New("no echo reply")

type liveness struct {
	alive bool
	state model.Reachability
	ttl   int
	rtt   time.Duration
}

// liveness sends an ICMP echo when enabled and falls back to TCP connects to
// the liveness ports. A refused connection proves the host is up.
func (s *Scanner) liveness(ctx context.Context, addr netip.Addr) liveness {
	if s.opts.ICMP {
		ttl, rtt, err := s.ping(ctx, addr)
		if err == nil {
			return liveness{alive: true, state: model.Reachable, ttl: ttl, rtt: rtt}
		}
		slog.DebugContext(ctx, "icmp echo failed", "addr", addr, "error", err)
	}

	var timedOut bool
	for _, port := range s.opts.LivenessPorts {
		if ctx.Err() != nil {
			return liveness{state: model.Timeout}
		}
		start := time.Now()
		conn, err := s.dial(ctx, netip.AddrPortFrom(addr, port))
		switch {
		case err == nil:
			_ = conn.Close()
			return liveness{alive: true, state: model.Reachable, rtt: time.Since(start)}
		case refused(err):
			return liveness{alive: true, state: model.Reachable, rtt: time.Since(start)}
		case timeout(err):
			timedOut = true
		}
	}
	if timedOut {
		return liveness{state: model.Timeout}
	}
	return liveness{state: model.Unreachable}
}

// ping sends one ICMP echo request and returns the TTL and round trip time of the reply
func (s *Scanner) ping(ctx context.Context, addr netip.Addr) (int, time.Duration, error) {
	if err := s.wait(ctx); err != nil {
		return 0, 0, err
	}
	pinger, err := probing.NewPinger(addr.String())
	if err != nil {
		return 0, 0, err
	}
	// raw sockets on windows, unprivileged udp pings elsewhere
	pinger.SetPrivileged(runtime.GOOS == "windows")
	pinger.Count = 1
	pinger.Timeout = s.opts.Timeout

	recv := make(chan probing.Packet, 1)
	pinger.OnRecv = func(pkt *probing.Packet) {
		select {
		case recv <- *pkt:
		default:
		}
	}
	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, 0, err
	}
	select {
	case pkt := <-recv:
		return pkt.TTL, pkt.Rtt, nil
	default:
		return 0, 0, errNoReply
	}
}
