package service_test

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/report"
	"github.com/CZERTAINLY/eolaudit/internal/service"
	"github.com/CZERTAINLY/eolaudit/internal/store"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func auditReport() model.AuditReport {
	ubuntu := model.Fingerprint{Family: "Linux", Vendor: "canonical", Product: "Ubuntu", Version: "18.04", Confidence: 0.85, Rule: "openssh-ubuntu"}
	findings := []model.Finding{
		{
			Host:        model.HostRecord{IP: netip.MustParseAddr("10.0.0.1"), Reachability: model.Reachable, Ports: []model.PortSignal{{Port: 22}}},
			Fingerprint: ubuntu,
			Entry: &model.EOLEntry{
				Vendor:       "canonical",
				Product:      "Ubuntu",
				Version:      "18.04",
				EOLDate:      time.Date(2023, 5, 31, 0, 0, 0, 0, time.UTC),
				Alternatives: []string{"Ubuntu 24.04 LTS"},
			},
			Status:   model.StatusCritical,
			DayCount: 732,
			Overdue:  true,
			Message:  "end of life reached 732 days ago",
		},
		{
			Host:        model.HostRecord{IP: netip.MustParseAddr("10.0.0.2"), Reachability: model.Reachable},
			Fingerprint: model.UnknownFingerprint(),
			Status:      model.StatusUnknown,
			Message:     "operating system not identified",
		},
	}
	return report.Assemble(findings, ref, report.Meta{
		ID:          "4f1e0c4e-0000-4000-8000-000000000001",
		GeneratedAt: ref.Add(time.Hour),
		Targets:     "10.0.0.0/30",
		Requested:   2,
		Probed:      2,
	})
}

// auditCommand prints a stored JSON report and exits with code
func auditCommand(t *testing.T, code int) service.Command {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	path := filepath.Join(t.TempDir(), "report.json")
	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf, auditReport()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return service.Command{
		Path:    sh,
		Args:    []string{"-c", `cat "$0"; exit "$1"`, path, strconv.Itoa(code)},
		Timeout: 5 * time.Second,
	}
}

type recorder struct {
	mx    sync.Mutex
	count int
	last  []byte
}

func (r *recorder) Upload(_ context.Context, raw []byte) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.count++
	r.last = append([]byte(nil), raw...)
	return nil
}

func (r *recorder) Count() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.count
}

func TestSupervisor(t *testing.T) {
	t.Parallel()

	t.Run("service", func(t *testing.T) {
		t.Parallel()
		cmd := auditCommand(t, report.ExitCritical)
		rec := &recorder{}
		supervisor := service.NewSupervisor(cmd, rec)
		ctx, cancel := context.WithCancel(t.Context())
		t.Cleanup(cancel)

		var g sync.WaitGroup
		g.Go(func() {
			err := supervisor.Do(ctx)
			require.NoError(t, err)
		})

		for i := range 3 {
			supervisor.Start()
			require.Eventually(t, func() bool { return rec.Count() == i+1 }, 5*time.Second, 10*time.Millisecond)
		}

		cancel()
		g.Wait()
		require.Equal(t, report.ExitCritical, supervisor.ExitCode())
		r, err := report.ReadReport(bytes.NewReader(rec.last))
		require.NoError(t, err)
		require.Equal(t, auditReport().ID, r.ID)
	})

	t.Run("oneshot", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		supervisor := service.NewSupervisor(auditCommand(t, report.ExitCritical), service.NewWriteUploader(&buf)).SetOneshot(true)
		err := supervisor.Do(t.Context())
		require.NoError(t, err)
		require.Equal(t, report.ExitCritical, supervisor.ExitCode())

		r, err := report.ReadReport(&buf)
		require.NoError(t, err)
		require.Equal(t, model.Summary{Critical: 1, Unknown: 1, Total: 2}, r.Summary)
	})
}

func TestSupervisor_ExitCodes(t *testing.T) {
	t.Parallel()

	type then struct {
		err      bool
		exitCode int
		uploaded bool
	}
	var testCases = []struct {
		scenario string
		given    int
		then     then
	}{
		{"ok", report.ExitOK, then{exitCode: report.ExitOK, uploaded: true}},
		{"warning", report.ExitWarning, then{exitCode: report.ExitWarning, uploaded: true}},
		{"critical", report.ExitCritical, then{exitCode: report.ExitCritical, uploaded: true}},
		{"incomplete", report.ExitIncomplete, then{exitCode: report.ExitIncomplete, uploaded: true}},
		{"configuration error", report.ExitConfig, then{err: true, exitCode: report.ExitConfig}},
		{"crash", 42, then{err: true, exitCode: report.ExitIncomplete}},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			rec := &recorder{}
			supervisor := service.NewSupervisor(auditCommand(t, tc.given), rec).SetOneshot(true)
			err := supervisor.Do(t.Context())
			if tc.then.err {
				require.ErrorIs(t, err, service.ErrAuditFailed)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.then.exitCode, supervisor.ExitCode())
			require.Equal(t, tc.then.uploaded, rec.Count() == 1)
		})
	}
}

func TestSupervisor_InvalidReport(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}
	rec := &recorder{}
	cmd := service.Command{Path: sh, Args: []string{"-c", "echo stdout"}, Timeout: time.Second}
	supervisor := service.NewSupervisor(cmd, rec).SetOneshot(true)
	err = supervisor.Do(t.Context())
	require.ErrorIs(t, err, service.ErrAuditFailed)
	require.ErrorContains(t, err, "invalid report")
	require.Zero(t, rec.Count())
}

func TestSupervisor_History(t *testing.T) {
	t.Parallel()
	db, err := store.InitDB(t.Context(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = service.NewSupervisor(auditCommand(t, report.ExitCritical), &recorder{}).
		SetOneshot(true).
		WithHistory(db).
		Do(t.Context())
	require.NoError(t, err)

	err = service.NewSupervisor(service.Command{Path: "does not exist"}).
		SetOneshot(true).
		WithHistory(db).
		Do(t.Context())
	require.ErrorIs(t, err, service.ErrAuditFailed)

	rows, err := store.List(t.Context(), db, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var ok, failed store.RunRow
	for _, row := range rows {
		require.False(t, row.InProgress)
		require.NotNil(t, row.Success)
		if *row.Success {
			ok = row
		} else {
			failed = row
		}
	}
	require.NotNil(t, ok.ExitCode)
	require.Equal(t, report.ExitCritical, *ok.ExitCode)
	require.NotNil(t, ok.ReportID)
	require.Equal(t, auditReport().ID, *ok.ReportID)
	require.Equal(t, &model.Summary{Critical: 1, Unknown: 1, Total: 2}, ok.Summary)

	require.NotNil(t, failed.FailureReason)
	require.Contains(t, *failed.FailureReason, "executable file not found")
}

func TestSupervisorFromConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	history := filepath.Join(dir, "history.db")
	reports := filepath.Join(dir, "reports")

	cfg := model.DefaultConfig(t.Context())
	cfg.Service.Verbose = true
	cfg.Service.Dir = &reports
	cfg.Service.History = &history
	supervisor, err := service.SupervisorFromConfig(t.Context(), cfg, "eolaudit.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, supervisor)
	require.NoError(t, supervisor.Close())
	require.DirExists(t, reports)
	require.FileExists(t, history)

	t.Run("timer", func(t *testing.T) {
		t.Parallel()
		cfg := model.DefaultConfig(t.Context())
		cfg.Service.Mode = model.ServiceModeTimer
		cfg.Service.Schedule = &model.TimerSchedule{Duration: "PT1H"}
		supervisor, err := service.SupervisorFromConfig(t.Context(), cfg, "eolaudit.yaml")
		require.NoError(t, err)
		require.NoError(t, supervisor.Close())
	})

	var invalid = []struct {
		scenario string
		given    model.TimerSchedule
	}{
		{"empty", model.TimerSchedule{}},
		{"cron", model.TimerSchedule{Cron: "61 * * * *"}},
		{"duration", model.TimerSchedule{Duration: "1h"}},
	}
	for _, tc := range invalid {
		t.Run("invalid "+tc.scenario, func(t *testing.T) {
			t.Parallel()
			cfg := model.DefaultConfig(t.Context())
			cfg.Service.Mode = model.ServiceModeTimer
			cfg.Service.Schedule = &tc.given
			_, err := service.SupervisorFromConfig(t.Context(), cfg, "eolaudit.yaml")
			require.ErrorIs(t, err, model.ErrConfig)
		})
	}
}
