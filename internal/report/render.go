package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/eolaudit/internal/bom"
	"github.com/CZERTAINLY/eolaudit/internal/model"
)

// Render writes the report in the given format
func Render(w io.Writer, r model.AuditReport, format string, colored bool) error {
	switch format {
	case model.FormatText, "":
		return WriteText(w, r, colored)
	case model.FormatJSON:
		return WriteJSON(w, r)
	case model.FormatCycloneDX:
		if err := bom.FromReport(r).AsJSON(w); err != nil {
			return fmt.Errorf("formatting report as CycloneDX: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported report format %q", model.ErrConfig, format)
	}
}

const fileTimeLayout = "20060102_150405"

// Save stores the JSON document and the plain text rendering of the report in dir.
// It returns the names of written files relative to dir.
func Save(ctx context.Context, dir string, r model.AuditReport) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening report dir: %w", err)
	}
	defer root.Close()

	base := "obsolescence_report_" + r.GeneratedAt.Format(fileTimeLayout)

	var jsonBuf, textBuf bytes.Buffer
	if err := WriteJSON(&jsonBuf, r); err != nil {
		return nil, err
	}
	if err := WriteText(&textBuf, r, false); err != nil {
		return nil, err
	}

	var names []string
	var errs []error
	for _, f := range []struct {
		name string
		data []byte
	}{
		{base + ".json", jsonBuf.Bytes()},
		{base + ".txt", textBuf.Bytes()},
	} {
		if err := write(root, f.name, f.data); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.InfoContext(ctx, "report saved", "dir", dir, "path", f.name)
		names = append(names, f.name)
	}
	return names, errors.Join(errs...)
}

func write(root *os.Root, name string, data []byte) error {
	f, err := root.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}
