package netscan

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// ProbeKind selects how a banner is read from an open port
type ProbeKind int

const (
	// ProbeNone only checks the port is open
	ProbeNone ProbeKind = iota
	// ProbePassive reads the greeting a server sends on connect (SSH, FTP, SMTP)
	ProbePassive
	// ProbeHTTP sends HEAD / and reads the response headers
	ProbeHTTP
	// ProbeTLS reads the certificate subject, then the response headers to HEAD /
	ProbeTLS
)

var probeKinds = map[string]ProbeKind{
	"none":    ProbeNone,
	"passive": ProbePassive,
	"http":    ProbeHTTP,
	"tls":     ProbeTLS,
}

// ParseProbeKind accepts the names used in scan.probes
func ParseProbeKind(name string) (ProbeKind, error) {
	kind, ok := probeKinds[strings.ToLower(name)]
	if !ok {
		return ProbeNone, fmt.Errorf("%w: unknown probe %q", model.ErrConfig, name)
	}
	return kind, nil
}

// DefaultProbes maps well known ports to a banner probe
var DefaultProbes = map[uint16]ProbeKind{
	21:   ProbePassive,
	22:   ProbePassive,
	23:   ProbePassive,
	25:   ProbePassive,
	80:   ProbeHTTP,
	110:  ProbePassive,
	143:  ProbePassive,
	443:  ProbeTLS,
	902:  ProbePassive,
	3306: ProbePassive,
	5985: ProbeHTTP,
	8000: ProbeHTTP,
	8080: ProbeHTTP,
	8443: ProbeTLS,
}

var services = map[uint16]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	110:  "pop3",
	135:  "msrpc",
	139:  "netbios-ssn",
	143:  "imap",
	443:  "https",
	445:  "microsoft-ds",
	902:  "vmware-authd",
	3306: "mysql",
	3389: "ms-wbt-server",
	5432: "postgresql",
	5985: "wsman",
	8000: "http-alt",
	8080: "http-proxy",
	8443: "https-alt",
}

// ServiceName returns a conventional service name of a TCP port
func ServiceName(port uint16) string {
	if name, ok := services[port]; ok {
		return name
	}
	return "port-" + strconv.Itoa(int(port))
}

const maxBanner = 200

var errClosed = errors.New("port closed")

// probePort connects to a port and reads its banner. A refused connection is errClosed.
func (s *Scanner) probePort(ctx context.Context, addr netip.Addr, port uint16) (model.PortSignal, error) {
	start := time.Now()
	conn, err := s.dial(ctx, netip.AddrPortFrom(addr, port))
	if err != nil {
		if refused(err) {
			return model.PortSignal{}, errClosed
		}
		return model.PortSignal{}, err
	}
	defer func() {
		_ = conn.Close()
	}()

	sig := model.PortSignal{
		Port:    port,
		Service: ServiceName(port),
		Latency: time.Since(start),
	}

	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	kind, ok := s.opts.Probes[port]
	if !ok {
		kind = ProbeNone
	}
	switch kind {
	case ProbePassive:
		sig.Banner = readBanner(conn)
	case ProbeHTTP:
		sig.Banner = httpHead(conn, addr)
	case ProbeTLS:
		sig.Banner = tlsBanner(ctx, conn, addr)
	}
	return sig, nil
}

func (s *Scanner) dial(ctx context.Context, ap netip.AddrPort) (net.Conn, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	return s.opts.Dial(ctx, "tcp", ap.String())
}

func readBanner(r io.Reader) string {
	buf := make([]byte, 1024)
	n, _ := io.ReadAtLeast(r, buf, 1)
	return sanitize(buf[:n])
}

func httpHead(rw io.ReadWriter, addr netip.Addr) string {
	req := "HEAD / HTTP/1.0\r\nHost: " + addr.String() + "\r\nUser-Agent: eolaudit\r\n\r\n"
	if _, err := io.WriteString(rw, req); err != nil {
		return ""
	}
	buf := make([]byte, 1024)
	var n int
	for n < len(buf) {
		m, err := rw.Read(buf[n:])
		n += m
		if err != nil {
			break
		}
	}
	return sanitize(buf[:n])
}

func tlsBanner(ctx context.Context, conn net.Conn, addr netip.Addr) string {
	tconn := tls.Client(conn, &tls.Config{
		// the certificate is inspected, not trusted
		InsecureSkipVerify: true, //nolint:gosec
		ServerName:         addr.String(),
	})
	if err := tconn.HandshakeContext(ctx); err != nil {
		return ""
	}
	var parts []string
	if certs := tconn.ConnectionState().PeerCertificates; len(certs) > 0 {
		parts = append(parts, "subject: "+certs[0].Subject.String())
	}
	if head := httpHead(tconn, addr); head != "" {
		parts = append(parts, head)
	}
	return truncate(strings.Join(parts, "\n"))
}

// sanitize keeps printable text and newlines
func sanitize(b []byte) string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == unicode.ReplacementChar, !unicode.IsPrint(r):
			return ' '
		default:
			return r
		}
	}, s)
	return truncate(strings.TrimSpace(s))
}

func truncate(s string) string {
	if len(s) <= maxBanner {
		return s
	}
	s = s[:maxBanner]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

func refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func timeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}
