package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/CZERTAINLY/eolaudit/internal/log"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/report"
	"github.com/CZERTAINLY/eolaudit/internal/store"
)

// ErrAuditFailed is returned in oneshot mode when the audit process did not produce a report
var ErrAuditFailed = errors.New("audit failed")

// Supervisor starts the audit subprocess on demand or on schedule, uploads
// the report it prints and records every run in the history database.
type Supervisor struct {
	cmd         Command
	runner      *Runner
	start       chan struct{}
	uploaders   []model.Uploader
	oneshot     bool
	scheduler   gocron.Scheduler
	history     *sql.DB
	ownsHistory bool
	runID       string
	exitCode    atomic.Int32
	now         func() time.Time
}

func NewSupervisor(cmd Command, uploaders ...model.Uploader) *Supervisor {
	s := &Supervisor{
		cmd:       cmd,
		runner:    NewRunner(),
		start:     make(chan struct{}, 1),
		uploaders: uploaders,
		now:       time.Now,
	}
	s.exitCode.Store(report.ExitIncomplete)
	return s
}

// SupervisorFromConfig prepares a supervisor running `_audit` of the current
// executable with the configuration stored in configPath.
func SupervisorFromConfig(ctx context.Context, cfg model.Config, configPath string) (*Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}
	return supervisorFromConfig(ctx, cfg, Command{
		Path:    exe,
		Args:    auditArgs(cfg.Service, configPath),
		Env:     os.Environ(),
		Timeout: auditTimeout(cfg.Scan),
	})
}

func supervisorFromConfig(ctx context.Context, cfg model.Config, cmd Command) (*Supervisor, error) {
	svcCfg := cfg.Service
	ups, err := uploaders(ctx, svcCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing uploaders: %w", err)
	}

	s := NewSupervisor(cmd, ups...).SetOneshot(svcCfg.Mode != model.ServiceModeTimer)
	if svcCfg.Mode == model.ServiceModeTimer {
		s.scheduler, err = newScheduler(ctx, svcCfg.Schedule, s.Start)
		if err != nil {
			s.closeUploaders(ctx)
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	if svcCfg.History != nil {
		db, err := store.InitDB(ctx, *svcCfg.History)
		if err != nil {
			s.closeUploaders(ctx)
			return nil, fmt.Errorf("%w: service.history: %w", model.ErrConfig, err)
		}
		s.history = db
		s.ownsHistory = true
	}
	return s, nil
}

func auditArgs(cfg model.Service, configPath string) []string {
	args := []string{"_audit", "--format", model.FormatJSON}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// auditTimeout leaves the child enough time to finish analysis after the discovery deadline
func auditTimeout(cfg model.Scan) time.Duration {
	if cfg.Deadline.Duration <= 0 {
		return 0
	}
	return 2*cfg.Deadline.Duration + time.Minute
}

// SetOneshot makes Do return after the first finished audit
func (s *Supervisor) SetOneshot(oneshot bool) *Supervisor {
	s.oneshot = oneshot
	return s
}

// WithHistory records runs in db, the caller keeps the ownership of it
func (s *Supervisor) WithHistory(db *sql.DB) *Supervisor {
	s.history = db
	s.ownsHistory = false
	return s
}

// Start asks for a new audit. It never blocks: a pending request absorbs
// the new one.
func (s *Supervisor) Start() {
	select {
	case s.start <- struct{}{}:
	default:
	}
}

// ExitCode is the exit status of the last audit, report.ExitIncomplete
// when there is none or it failed without a report.
func (s *Supervisor) ExitCode() int {
	return int(s.exitCode.Load())
}

// Do runs the supervisor event loop. It multiplexes start requests, results
// of the audit process and context cancellation.
//
// In oneshot mode an audit is started on entry and Do returns after its
// result was handled, with an error when the audit or an upload failed.
// Otherwise errors are logged and the loop runs until ctx is canceled.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			if err := s.scheduler.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}
	defer s.closeUploaders(ctx)
	defer s.runner.Close()

	if s.oneshot {
		s.Start()
	}

	for {
		select {
		case <-ctx.Done():
			s.abandon(context.WithoutCancel(ctx))
			return nil
		case <-s.start:
			err := s.launch(ctx)
			if errors.Is(err, ErrScanInProgress) {
				slog.WarnContext(ctx, "audit still running: ignoring start")
				continue
			}
			if err != nil {
				if s.oneshot {
					return err
				}
				slog.ErrorContext(ctx, "audit can't be started", "error", err)
			}
		case result := <-s.runner.ResultsChan():
			err := s.handle(ctx, result)
			if s.oneshot {
				return err
			}
			if err != nil {
				slog.ErrorContext(ctx, "audit run failed", "error", err)
			}
		}
	}
}

// Close releases the history database opened by SupervisorFromConfig
func (s *Supervisor) Close() error {
	if s.history == nil || !s.ownsHistory {
		return nil
	}
	err := s.history.Close()
	s.history = nil
	return err
}

func (s *Supervisor) launch(ctx context.Context) error {
	id := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("run", id))
	started := s.now()

	err := s.runner.Start(ctx, s.cmd, forwardStderr)
	if errors.Is(err, ErrScanInProgress) {
		return err
	}
	s.runID = id
	if s.history != nil {
		if herr := store.Start(ctx, s.history, id, started); herr != nil {
			slog.ErrorContext(ctx, "recording run start", "error", herr)
		}
	}
	if err != nil {
		s.exitCode.Store(report.ExitIncomplete)
		s.recordFailure(ctx, err.Error())
		return fmt.Errorf("%w: %w", ErrAuditFailed, err)
	}
	slog.InfoContext(ctx, "audit started", "path", s.cmd.Path)
	return nil
}

// handle accepts exit codes of a report and rejects anything else
func (s *Supervisor) handle(ctx context.Context, result Result) error {
	ctx = log.ContextAttrs(ctx, slog.String("run", s.runID))
	code := result.ExitCode()

	var reason string
	switch {
	case result.State == nil && result.Err != nil:
		reason = "err: " + result.Err.Error()
	case result.State == nil:
		reason = "state is nil"
	case code == report.ExitConfig:
		reason = "configuration error"
	case code < report.ExitOK || code > report.ExitIncomplete:
		reason = "exit code " + strconv.Itoa(code)
		if result.Err != nil {
			reason += ": " + result.Err.Error()
		}
	}

	var r model.AuditReport
	if reason == "" {
		var err error
		r, err = report.ReadReport(bytes.NewReader(result.Stdout.Bytes()))
		if err != nil {
			reason = "invalid report: " + err.Error()
		}
	}

	if reason != "" {
		slog.ErrorContext(ctx, "audit has failed", "reason", reason, "exit_code", code)
		if code == report.ExitConfig {
			s.exitCode.Store(report.ExitConfig)
		} else {
			s.exitCode.Store(report.ExitIncomplete)
		}
		s.recordFailure(ctx, reason)
		return fmt.Errorf("%w: %s", ErrAuditFailed, reason)
	}

	s.exitCode.Store(int32(code))
	slog.InfoContext(ctx, "audit finished", "status", report.StatusLine(r), "exit_code", code)
	if s.history != nil {
		err := store.FinishOK(ctx, s.history, s.runID, store.Outcome{
			Stopped:  result.Stopped,
			ExitCode: code,
			ReportID: r.ID,
			Summary:  r.Summary,
		})
		if err != nil {
			slog.ErrorContext(ctx, "recording run result", "error", err)
		}
	}

	slog.DebugContext(ctx, "audit succeeded: uploading")
	return s.upload(ctx, result.Stdout.Bytes())
}

// abandon marks a run interrupted by shutdown as failed
func (s *Supervisor) abandon(ctx context.Context) {
	if s.runID == "" || !s.runner.LastResult().Stopped.IsZero() {
		return
	}
	s.recordFailure(log.ContextAttrs(ctx, slog.String("run", s.runID)), "interrupted")
}

func (s *Supervisor) recordFailure(ctx context.Context, reason string) {
	if s.history == nil || s.runID == "" {
		return
	}
	err := store.FinishErr(ctx, s.history, s.runID, s.now(), reason)
	if err != nil && !errors.Is(err, store.ErrAlreadyFinished) {
		slog.ErrorContext(ctx, "recording run failure", "error", err)
	}
}

func (s *Supervisor) closeUploaders(ctx context.Context) {
	for _, uploader := range s.uploaders {
		if closer, ok := uploader.(model.UploadCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) upload(ctx context.Context, stdout []byte) error {
	var errs []error
	for _, u := range s.uploaders {
		if err := u.Upload(ctx, stdout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// forwardStderr relays log lines of the audit process
func forwardStderr(ctx context.Context, line string) {
	slog.DebugContext(ctx, "audit", "stderr", line)
}

func newScheduler(ctx context.Context, cfgp *model.TimerSchedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("%w: service.schedule is nil", model.ErrConfig)
	}
	cfg := *cfgp
	interval, err := cfg.Interval()
	if err != nil {
		return nil, fmt.Errorf("parsing service.schedule: %w", err)
	}
	var job gocron.JobDefinition
	if cfg.Cron != "" {
		job = gocron.CronJob(cfg.Cron, false)
	} else {
		job = gocron.DurationJob(interval)
	}
	slog.DebugContext(ctx, "audit scheduled", "cron", cfg.Cron, "duration", cfg.Duration, "interval", interval.String())

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
