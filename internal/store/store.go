// Package store keeps the history of audit runs in a sqlite database
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/model"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Run is one execution of the audit subprocess
type Run struct {
	UUID          string
	Started       time.Time
	Stopped       *time.Time
	InProgress    bool
	Success       *bool
	ExitCode      *int
	ReportID      *string
	Summary       *model.Summary
	FailureReason *string
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s  %s", r.Started.Local().Format(time.DateTime), r.UUID)
	switch {
	case r.InProgress:
		sb.WriteString("  in progress")
	case r.Success != nil && *r.Success:
		if r.ExitCode != nil {
			fmt.Fprintf(&sb, "  exit %d", *r.ExitCode)
		}
		if s := r.Summary; s != nil {
			fmt.Fprintf(&sb, "  total %d: critical %d, warning %d, unknown %d, supported %d",
				s.Total, s.Critical, s.Warning, s.Unknown, s.Supported)
		}
	default:
		sb.WriteString("  failed")
		if r.FailureReason != nil {
			fmt.Fprintf(&sb, ": %s", *r.FailureReason)
		}
	}
	return sb.String()
}

// Outcome is the result of a successful run
type Outcome struct {
	Stopped  time.Time
	ExitCode int
	ReportID string
	Summary  model.Summary
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			started_at INTEGER NOT NULL,
			stopped_at INTEGER DEFAULT NULL,
			in_progress BOOLEAN NOT NULL,
			success BOOLEAN DEFAULT NULL,
			exit_code INTEGER DEFAULT NULL,
			report_id TEXT DEFAULT NULL,
			critical INTEGER DEFAULT NULL,
			warning INTEGER DEFAULT NULL,
			unknown INTEGER DEFAULT NULL,
			supported INTEGER DEFAULT NULL,
			total INTEGER DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "rollback failed", slog.String("uuid", uuid), slog.String("error", err.Error()))
	}
}

// Start persists that a run identified by 'uuid' is in progress.
// If the run is still in progress, no error is returned,
// if it has already finished ErrAlreadyFinished is returned.
func Start(ctx context.Context, db *sql.DB, uuid string, started time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && inProgress:
		return nil
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, started_at, in_progress) VALUES (?,?,?);`, uuid, started.UnixMilli(), true,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// FinishOK stores the outcome of a run which produced a report
func FinishOK(ctx context.Context, db *sql.DB, uuid string, o Outcome) error {
	return finish(ctx, db, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			success = true,
			stopped_at = ?,
			exit_code = ?,
			report_id = ?,
			critical = ?,
			warning = ?,
			unknown = ?,
			supported = ?,
			total = ?
		WHERE uuid = ?;`,
		o.Stopped.UnixMilli(), o.ExitCode, o.ReportID,
		o.Summary.Critical, o.Summary.Warning, o.Summary.Unknown, o.Summary.Supported, o.Summary.Total,
		uuid,
	)
}

// FinishErr stores the failure reason of a run
func FinishErr(ctx context.Context, db *sql.DB, uuid string, stopped time.Time, reason string) error {
	return finish(ctx, db, uuid,
		`UPDATE runs
		 SET
			in_progress = false,
			success = false,
			stopped_at = ?,
			failure_reason = ?
		WHERE uuid = ?;`,
		stopped.UnixMilli(), reason, uuid,
	)
}

func finish(ctx context.Context, db *sql.DB, uuid, update string, args ...any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var inProgress bool
	err = tx.QueryRowContext(ctx,
		`SELECT in_progress FROM runs WHERE uuid=?`, uuid,
	).Scan(&inProgress)
	switch {
	case err == nil && !inProgress:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

const columns = `id, uuid, started_at, stopped_at, in_progress, success, exit_code, report_id,
	critical, warning, unknown, supported, total, failure_reason`

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row scanner) (RunRow, error) {
	var (
		r                                          RunRow
		started                                    int64
		stopped                                    sql.NullInt64
		success                                    sql.NullBool
		exitCode                                   sql.NullInt64
		reportID, reason                           sql.NullString
		critical, warning, unknown, supported, tot sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.UUID, &started, &stopped, &r.InProgress, &success, &exitCode, &reportID,
		&critical, &warning, &unknown, &supported, &tot, &reason,
	)
	if err != nil {
		return RunRow{}, err
	}
	r.Started = time.UnixMilli(started).UTC()
	if stopped.Valid {
		t := time.UnixMilli(stopped.Int64).UTC()
		r.Stopped = &t
	}
	if success.Valid {
		r.Success = &success.Bool
	}
	if exitCode.Valid {
		c := int(exitCode.Int64)
		r.ExitCode = &c
	}
	if reportID.Valid {
		r.ReportID = &reportID.String
	}
	if reason.Valid {
		r.FailureReason = &reason.String
	}
	if tot.Valid {
		r.Summary = &model.Summary{
			Critical:  int(critical.Int64),
			Warning:   int(warning.Int64),
			Unknown:   int(unknown.Int64),
			Supported: int(supported.Int64),
			Total:     int(tot.Int64),
		}
	}
	return r, nil
}

// Get returns a run identified by 'uuid',
// ErrNotFound when it does not exist.
func Get(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM runs WHERE uuid=?`, uuid,
	)
	r, err := scanRow(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// List returns at most limit runs, the most recent first. Zero limit means all.
func List(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+columns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// Delete removes a run, deleting an unknown run is not an error
func Delete(ctx context.Context, db *sql.DB, uuid string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM runs WHERE uuid=?`, uuid); err != nil {
		return fmt.Errorf("executing sql delete failed: %w", err)
	}
	return nil
}
