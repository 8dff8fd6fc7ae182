package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"
)

func uploaders(_ context.Context, cfg model.Service) ([]model.Uploader, error) {
	repo := cfg.Repository != nil && cfg.Repository.Enabled
	if cfg.Dir == nil && !repo {
		return []model.Uploader{NewWriteUploader(os.Stdout)}, nil
	}
	var uploaders []model.Uploader
	if cfg.Dir != nil {
		u, err := NewOSRootUploader(*cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("%w: service.dir: %w", model.ErrConfig, err)
		}
		uploaders = append(uploaders, u)
	}

	if repo {
		u, err := NewBOMRepoUploader(*cfg.Repository)
		if err != nil {
			return nil, fmt.Errorf("%w: service.repository: %w", model.ErrConfig, err)
		}
		uploaders = append(uploaders, u)
	}
	return uploaders, nil
}

// WriteUploader copies the JSON report to a writer
type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, raw []byte) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	_, err := u.w.Write(raw)
	return err
}

// OSRootUploader stores every JSON report as a new file in a directory
type OSRootUploader struct {
	root *os.Root
	now  func() time.Time
}

func NewOSRootUploader(path string) (*OSRootUploader, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root, now: time.Now}, nil
}

func (u *OSRootUploader) Upload(ctx context.Context, b []byte) error {
	if u.root == nil {
		return errors.New("root already closed")
	}

	path := "eolaudit-" + u.now().Format("2006-01-02-15-04-05.000") + ".json"

	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating audit report: %w", err)
	}
	_, err = f.Write(b)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving audit report: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing audit report: %w", err)
	}
	slog.InfoContext(ctx, "report saved", "path", path)
	return nil
}

func (u *OSRootUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}
