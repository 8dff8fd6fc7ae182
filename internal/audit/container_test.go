package audit_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CZERTAINLY/eolaudit/internal/audit"
	"github.com/CZERTAINLY/eolaudit/internal/classify"
	"github.com/CZERTAINLY/eolaudit/internal/eol"
	"github.com/CZERTAINLY/eolaudit/internal/fingerprint"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
)

// apache of an Ubuntu image announces the distribution, not its release
const ubuntuApache = "ubuntu/apache2:2.4-22.04_beta"

func TestRun_Container(t *testing.T) {
	if testing.Short() {
		t.Skip("container tests are ignored with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	ctr, err := testcontainers.Run(ctx, ubuntuApache,
		testcontainers.WithExposedPorts("80/tcp"),
		testcontainers.WithWaitStrategy(wait.ForHTTP("/").WithPort("80/tcp")),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	mapped, err := ctr.MappedPort(ctx, "80/tcp")
	require.NoError(t, err)
	port := uint16(mapped.Int())

	kb, err := eol.LoadAll(eol.Defaults())
	require.NoError(t, err)
	scanner := netscan.New(netscan.Options{
		Ports:   []uint16{port},
		Probes:  map[uint16]netscan.ProbeKind{port: netscan.ProbeHTTP},
		Workers: 1,
	})
	th := model.DefaultConfig(ctx).Thresholds
	a := audit.New(scanner, kb, classify.ThresholdsFromConfig(th))

	r, err := a.Run(ctx, []string{host})
	require.NoError(t, err)
	require.Len(t, r.Findings, 1)
	f := r.Findings[0]
	require.Equal(t, model.Reachable, f.Host.Reachability)
	require.Equal(t, fingerprint.FamilyLinux, f.Fingerprint.Family)
	require.Equal(t, "Ubuntu", f.Fingerprint.Product)
	require.Equal(t, model.StatusUnknown, f.Status)
	require.True(t, f.FamilyRisk)
}
