package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/eolaudit/internal/audit"
	"github.com/CZERTAINLY/eolaudit/internal/log"
	"github.com/CZERTAINLY/eolaudit/internal/model"
	"github.com/CZERTAINLY/eolaudit/internal/netscan"
	"github.com/CZERTAINLY/eolaudit/internal/report"
)

var (
	flagScanFormat   string
	flagReportFormat string
	flagAuditFormat  string
	flagOutDir       string
	flagNoColor      bool
	flagNoSave       bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "audit scans a network and classifies the operating systems found",
}

var auditScanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "scan discovers hosts and prints what was observed, without classification",
	RunE:  doAuditScan,
}

var auditReportCmd = &cobra.Command{
	Use:   "report [targets...]",
	Short: "report scans the targets, prints the obsolescence report and saves it to report.dir",
	RunE:  doAuditReport,
}

var auditCheckCmd = &cobra.Command{
	Use:   "check <os name>",
	Short: "check classifies a single operating system, eg. \"Windows Server 2012 R2\"",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doAuditCheck,
}

var auditListCmd = &cobra.Command{
	Use:   "list-eol",
	Short: "list-eol prints every knowledge base entry with its status today",
	Args:  cobra.NoArgs,
	RunE:  doAuditList,
}

var internalAuditCmd = &cobra.Command{
	Use:    "_audit",
	Short:  "internal command",
	RunE:   doInternalAudit,
	Hidden: true,
}

func init() {
	auditScanCmd.Flags().StringVar(&flagScanFormat, "format", model.FormatText, "output format: text or json")

	auditReportCmd.Flags().StringVar(&flagReportFormat, "format", "", "output format: text, json or cyclonedx - default is report.format")
	auditReportCmd.Flags().StringVar(&flagOutDir, "output-dir", "", "save reports to this directory - default is report.dir")
	auditReportCmd.Flags().BoolVar(&flagNoSave, "no-save", false, "do not save reports")
	auditReportCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "disable colors")

	internalAuditCmd.Flags().StringVar(&flagAuditFormat, "format", model.FormatJSON, "output format")

	auditCmd.AddCommand(auditScanCmd, auditReportCmd, auditCheckCmd, auditListCmd)
}

// targets prefers the command line over scan.targets
func targets(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(config.Scan.Targets) > 0 {
		return config.Scan.Targets, nil
	}
	return nil, fmt.Errorf("%w: no targets given, use arguments or scan.targets", model.ErrConfig)
}

func newAudit(cmd *cobra.Command, name string) (*audit.Audit, context.Context, error) {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("eolaudit",
		slog.String("cmd", name),
		slog.Int("pid", os.Getpid()),
	))
	a, err := audit.FromConfig(ctx, config)
	return a, ctx, err
}

func doAuditScan(cmd *cobra.Command, args []string) error {
	specs, err := targets(args)
	if err != nil {
		return err
	}
	a, ctx, err := newAudit(cmd, "audit scan")
	if err != nil {
		return err
	}
	res, err := a.Scan(ctx, specs)
	if err != nil {
		return err
	}
	if res.Incomplete {
		exitCode = report.ExitIncomplete
	}

	out := cmd.OutOrStdout()
	switch flagScanFormat {
	case model.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Requested  int                `json:"total_requested"`
			Probed     int                `json:"total_probed"`
			Incomplete bool               `json:"incomplete"`
			Hosts      []model.HostRecord `json:"hosts"`
		}{res.Requested, res.Probed, res.Incomplete, res.Hosts})
	case model.FormatText, "":
		return writeHosts(out, res)
	default:
		return fmt.Errorf("%w: unsupported scan format %q", model.ErrConfig, flagScanFormat)
	}
}

func writeHosts(w io.Writer, res netscan.ScanResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tHOSTNAME\tREACHABILITY\tTTL\tPORTS\tBANNER")
	for _, h := range res.Hosts {
		ports := make([]string, 0, len(h.Ports))
		banner := h.SysDescr
		for _, p := range h.Ports {
			ports = append(ports, strconv.Itoa(int(p.Port)))
			if banner == "" && p.Banner != "" {
				banner = p.Banner
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			h.IP, h.Hostname, h.Reachability, h.TTL, strings.Join(ports, ","), shorten(banner, bannerWidth))
	}
	fmt.Fprintf(tw, "\nprobed %d of %d addresses", res.Probed, res.Requested)
	if res.Incomplete {
		fmt.Fprint(tw, ", incomplete")
	}
	fmt.Fprintln(tw)
	return tw.Flush()
}

const bannerWidth = 60

// shorten cuts s to at most n bytes without splitting a character
func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func doAuditReport(cmd *cobra.Command, args []string) error {
	specs, err := targets(args)
	if err != nil {
		return err
	}
	a, ctx, err := newAudit(cmd, "audit report")
	if err != nil {
		return err
	}
	r, err := a.Run(ctx, specs)
	if err != nil {
		return err
	}
	exitCode = report.ExitCode(r)

	format := flagReportFormat
	if format == "" {
		format = config.Report.Format
	}
	colored := config.Report.Color && !flagNoColor && !color.NoColor
	if err := report.Render(cmd.OutOrStdout(), r, format, colored); err != nil {
		return err
	}

	dir := flagOutDir
	if dir == "" && config.Report.Dir != nil {
		dir = *config.Report.Dir
	}
	if dir != "" && !flagNoSave {
		if _, err := report.Save(ctx, dir, r); err != nil {
			return err
		}
	}
	slog.InfoContext(ctx, report.StatusLine(r), "exit_code", exitCode)
	return nil
}

// doInternalAudit is started by the run command, it prints the report to stdout
func doInternalAudit(cmd *cobra.Command, args []string) error {
	specs, err := targets(args)
	if err != nil {
		return err
	}
	a, ctx, err := newAudit(cmd, "_audit")
	if err != nil {
		return err
	}
	r, err := a.Run(ctx, specs)
	if err != nil {
		return err
	}
	exitCode = report.ExitCode(r)
	return report.Render(cmd.OutOrStdout(), r, flagAuditFormat, false)
}

func doAuditCheck(cmd *cobra.Command, args []string) error {
	a, _, err := newAudit(cmd, "audit check")
	if err != nil {
		return err
	}
	name := strings.Join(args, " ")
	f, err := a.Check(name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", name, f.Status)
	if f.Entry != nil {
		fmt.Fprintf(out, "  matched:      %s\n", f.Entry.Name())
		fmt.Fprintf(out, "  end of life:  %s\n", f.Entry.EOLDate.Format(model.DateLayout))
		if es := f.Entry.ExtendedSupport; es != nil {
			fmt.Fprintf(out, "  extended:     %s\n", es.Format(model.DateLayout))
		}
	}
	fmt.Fprintf(out, "  %s\n", f.Message)
	if alts := f.Alternatives(); len(alts) > 0 && f.Status != model.StatusSupported {
		fmt.Fprintf(out, "  upgrade to:   %s\n", strings.Join(alts, ", "))
	}

	switch f.Status {
	case model.StatusCritical:
		exitCode = report.ExitCritical
	case model.StatusWarning:
		exitCode = report.ExitWarning
	case model.StatusUnknown:
		exitCode = report.ExitIncomplete
	}
	return nil
}

func doAuditList(cmd *cobra.Command, _ []string) error {
	a, _, err := newAudit(cmd, "audit list-eol")
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tEND OF LIFE\tEXTENDED\tSTATUS\tDAYS")
	for _, e := range a.List() {
		extended := "-"
		if e.Entry.ExtendedSupport != nil {
			extended = e.Entry.ExtendedSupport.Format(model.DateLayout)
		}
		days := strconv.Itoa(e.DayCount)
		if e.Overdue {
			days += " overdue"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Entry.Name(), e.Entry.EOLDate.Format(model.DateLayout), extended, e.Status, days)
	}
	return tw.Flush()
}
