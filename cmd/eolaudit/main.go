package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/eolaudit/internal/log"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/report"
	"github.com/CZERTAINLY/eolaudit/internal/service"
	"github.com/CZERTAINLY/eolaudit/internal/store"
)

const configName = "eolaudit.yaml"

var (
	userConfigPath string // /default/config/path/eolaudit on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
	logCloser      io.Closer = nopCloser{}

	// exitCode is set by commands producing a report
	exitCode = report.ExitOK

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagHistoryLimit   int
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		d = "."
	}
	userConfigPath = filepath.Join(d, "eolaudit")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initEolaudit

	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "number of runs to show")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(internalAuditCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	code := exitCode
	if err != nil {
		slog.Error("eolaudit failed", "err", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		code = errorExitCode(err)
	}
	_ = logCloser.Close()
	os.Exit(code)
}

// errorExitCode maps errors to exit statuses: invalid input is ExitConfig,
// anything else means the audit result is not known
func errorExitCode(err error) int {
	if errors.Is(err, model.ErrConfig) {
		return report.ExitConfig
	}
	return report.ExitIncomplete
}

var rootCmd = &cobra.Command{
	Use:          "eolaudit",
	Short:        "Audits a network for operating systems past their end of life",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes the audit once or on schedule and publishes the reports",
	Args:  cobra.NoArgs,
	RunE:  doRun,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "history lists audits executed by the run command",
	Args:  cobra.NoArgs,
	RunE:  doHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of an eolaudit",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("eolaudit: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("eolaudit: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("eolaudit",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	supervisor, err := service.SupervisorFromConfig(ctx, config, configPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := supervisor.Close(); err != nil {
			slog.ErrorContext(ctx, "closing supervisor", "error", err)
		}
	}()

	err = supervisor.Do(ctx)
	if config.Service.Mode == model.ServiceModeManual {
		exitCode = supervisor.ExitCode()
	}
	if errors.Is(err, service.ErrAuditFailed) && exitCode == report.ExitConfig {
		return fmt.Errorf("%w: %w", model.ErrConfig, err)
	}
	return err
}

func doHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if config.Service.History == nil {
		return fmt.Errorf("%w: service.history is not configured", model.ErrConfig)
	}
	db, err := store.InitDB(ctx, *config.Service.History)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := store.List(ctx, db, flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}
	for _, row := range rows {
		fmt.Fprintln(cmd.OutOrStdout(), row.String())
	}
	return nil
}

func initEolaudit(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	if envConfig, ok := os.LookupEnv("EOLAUDITCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, configName)
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, configName)
		if err := writeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("%w: opening config file: %w", model.ErrConfig, err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfigEnv(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	// the audit subprocess logs to stderr, the supervisor forwards it
	w := log.Output(config.Service.Log)
	if cmd == internalAuditCmd {
		w = os.Stderr
	}
	var logger *slog.Logger
	logger, logCloser = log.NewWriter(w, config.Service.Verbose)
	slog.SetDefault(logger)

	slog.Debug("eolaudit run", "configPath", configPath)
	slog.Debug("eolaudit run", "config", config)
	return nil
}

func writeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
