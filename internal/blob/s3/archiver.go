package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// Archiver uploads daily JSON reports to cold storage. Objects are keyed by
// UTC date so re-running a job for the same day overwrites its own report
// instead of accumulating duplicates.
//
// Key layout:
//
//	reports/audit/2026-03-14.json
//	reports/evaluations/2026-03-14.json
type Archiver struct {
	writer domain.BlobWriter
	logger *slog.Logger
}

// NewArchiver creates an Archiver on top of any blob writer.
func NewArchiver(writer domain.BlobWriter, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

func reportKey(kind string, day time.Time) string {
	return fmt.Sprintf("reports/%s/%s.json", kind, day.UTC().Format(time.DateOnly))
}

// ArchiveReport marshals the payload and uploads it under the given report
// kind and day.
func (a *Archiver) ArchiveReport(ctx context.Context, kind string, day time.Time, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s report: %w", kind, err)
	}

	key := reportKey(kind, day)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive %s report: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "report archived",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return nil
}

// ArchiveAuditReports uploads the day's balance audit reports.
func (a *Archiver) ArchiveAuditReports(ctx context.Context, day time.Time, reports any) error {
	return a.ArchiveReport(ctx, "audit", day, reports)
}

// ArchiveEvaluationSummary uploads the day's evaluation sweep summary.
func (a *Archiver) ArchiveEvaluationSummary(ctx context.Context, day time.Time, summary any) error {
	return a.ArchiveReport(ctx, "evaluations", day, summary)
}
