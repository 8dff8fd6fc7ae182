package netscan_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/stretchr/testify/require"
)

func fakeLookup(_ context.Context, host string) ([]netip.Addr, error) {
	switch host {
	case "dc01.example.com":
		return []netip.Addr{netip.MustParseAddr("2001:db8::1"), netip.MustParseAddr("192.0.2.20")}, nil
	case "v6.example.com":
		return []netip.Addr{netip.MustParseAddr("2001:db8::2")}, nil
	default:
		return nil, errors.New("no such host")
	}
}

func TestParseTargets(t *testing.T) {
	t.Parallel()

	type then struct {
		addrs    []string
		explicit []bool
		hostname string
	}
	var testCases = []struct {
		scenario string
		given    []string
		then     then
	}{
		{
			scenario: "single address",
			given:    []string{"192.0.2.1"},
			then:     then{addrs: []string{"192.0.2.1"}, explicit: []bool{true}},
		},
		{
			scenario: "cidr skips network and broadcast",
			given:    []string{"192.0.2.0/29"},
			then: then{
				addrs:    []string{"192.0.2.1", "192.0.2.2", "192.0.2.3", "192.0.2.4", "192.0.2.5", "192.0.2.6"},
				explicit: []bool{false, false, false, false, false, false},
			},
		},
		{
			scenario: "cidr is masked",
			given:    []string{"192.0.2.77/30"},
			then:     then{addrs: []string{"192.0.2.77", "192.0.2.78"}, explicit: []bool{false, false}},
		},
		{
			scenario: "point to point keeps both addresses",
			given:    []string{"192.0.2.8/31"},
			then:     then{addrs: []string{"192.0.2.8", "192.0.2.9"}, explicit: []bool{false, false}},
		},
		{
			scenario: "single host prefix",
			given:    []string{"192.0.2.8/32"},
			then:     then{addrs: []string{"192.0.2.8"}, explicit: []bool{false}},
		},
		{
			scenario: "ipv6 prefix has no broadcast",
			given:    []string{"2001:db8::/127"},
			then:     then{addrs: []string{"2001:db8::", "2001:db8::1"}, explicit: []bool{false, false}},
		},
		{
			scenario: "list with duplicates keeps order",
			given:    []string{"192.0.2.3, 192.0.2.1 192.0.2.3", "192.0.2.2"},
			then:     then{addrs: []string{"192.0.2.3", "192.0.2.1", "192.0.2.2"}, explicit: []bool{true, true, true}},
		},
		{
			scenario: "explicit address inside a sweep",
			given:    []string{"192.0.2.0/30", "192.0.2.2"},
			then:     then{addrs: []string{"192.0.2.1", "192.0.2.2"}, explicit: []bool{false, true}},
		},
		{
			scenario: "hostname prefers ipv4",
			given:    []string{"dc01.example.com"},
			then:     then{addrs: []string{"192.0.2.20"}, explicit: []bool{true}, hostname: "dc01.example.com"},
		},
		{
			scenario: "ipv6 only hostname",
			given:    []string{"v6.example.com"},
			then:     then{addrs: []string{"2001:db8::2"}, explicit: []bool{true}, hostname: "v6.example.com"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			targets, err := netscan.ParseTargets(t.Context(), tc.given, 1024, fakeLookup)
			require.NoError(t, err)
			var addrs []string
			var explicit []bool
			for _, target := range targets {
				addrs = append(addrs, target.Addr.String())
				explicit = append(explicit, target.Explicit)
			}
			require.Equal(t, tc.then.addrs, addrs)
			require.Equal(t, tc.then.explicit, explicit)
			if tc.then.hostname != "" {
				require.Equal(t, tc.then.hostname, targets[0].Hostname)
			}
		})
	}
}

func TestParseTargets_Fail(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    []string
		max      int
	}{
		{"empty", nil, 10},
		{"only separators", []string{" , "}, 10},
		{"invalid cidr", []string{"192.0.2.0/33"}, 10},
		{"garbage", []string{"192.0.2.1/x"}, 10},
		{"huge range", []string{"10.0.0.0/1"}, 0},
		{"over the limit", []string{"192.0.2.0/24"}, 100},
		{"invalid hostname", []string{"-bad-.example.com"}, 10},
		{"unresolvable hostname", []string{"missing.example.com"}, 10},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			targets, err := netscan.ParseTargets(t.Context(), tc.given, tc.max, fakeLookup)
			require.Error(t, err)
			require.ErrorIs(t, err, model.ErrConfig)
			require.Nil(t, targets)
		})
	}
}

func TestSpec(t *testing.T) {
	t.Parallel()
	require.Equal(t, "192.0.2.0/24, db01", netscan.Spec([]string{"192.0.2.0/24", "db01"}))
}
