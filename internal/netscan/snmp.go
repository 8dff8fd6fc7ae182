package netscan

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const oidSysDescr = ".1.3.6.1.2.1.1.1.0"

type SNMPOptions struct {
	Community string
	Port      uint16
	Timeout   time.Duration
}

// SysDescr reads SNMPv2-MIB::sysDescr.0 with an SNMP v2c get request
func SysDescr(ctx context.Context, addr netip.Addr, opts SNMPOptions) (string, error) {
	g := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    addr.String(),
		Port:      opts.Port,
		Transport: "udp",
		Community: opts.Community,
		Version:   gosnmp.Version2c,
		Timeout:   opts.Timeout,
		Retries:   0,
	}
	if err := g.Connect(); err != nil {
		return "", fmt.Errorf("snmp connect: %w", err)
	}
	defer func() {
		_ = g.Conn.Close()
	}()

	res, err := g.Get([]string{oidSysDescr})
	if err != nil {
		return "", fmt.Errorf("snmp get: %w", err)
	}
	if res.Error != gosnmp.NoError {
		return "", fmt.Errorf("snmp get: %s", res.Error)
	}
	for _, v := range res.Variables {
		if v.Type != gosnmp.OctetString {
			continue
		}
		if b, ok := v.Value.([]byte); ok {
			return strings.TrimSpace(sanitize(b)), nil
		}
	}
	return "", errNoRecord
}
