package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"spadesk/internal/models"
)

// Archiver writes the previous month's reservations workbook to a directory
// shortly after each month starts.
type Archiver struct {
	exporter *Exporter
	dir      string
	loc      *time.Location
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewArchiver(exporter *Exporter, dir string, logger *zerolog.Logger) *Archiver {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Archiver{
		exporter: exporter,
		dir:      dir,
		loc:      exporter.loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Start blocks until ctx is done, archiving once per month.
func (a *Archiver) Start(ctx context.Context) {
	nextRun := a.nextFirstOfMonth()
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()
	a.logger.Info().Time("next_run", nextRun).Str("dir", a.dir).Msg("Monthly archive scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := a.ArchivePreviousMonth(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Failed to archive reservations")
			}
			nextRun = a.nextFirstOfMonth()
			timer.Reset(time.Until(nextRun))
			a.logger.Info().Time("next_run", nextRun).Msg("Next monthly archive scheduled")
		}
	}
}

func (a *Archiver) nextFirstOfMonth() time.Time {
	now := a.now().In(a.loc)
	// 00:01 on the 1st, after the last day's reservations have ended.
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, a.loc)
}

// PreviousMonth is the calendar month before the one containing now.
func PreviousMonth(now time.Time) models.Interval {
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return models.Interval{Start: end.AddDate(0, -1, 0), End: end}
}

// ArchivePreviousMonth exports last month and returns the written file path.
func (a *Archiver) ArchivePreviousMonth(ctx context.Context) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	rng := PreviousMonth(a.now().In(a.loc))
	path := filepath.Join(a.dir, fmt.Sprintf("reservations_%s.xlsx", rng.Start.Format("2006-01")))

	tmp, err := os.CreateTemp(a.dir, ".archive-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := a.exporter.Export(ctx, tmp, rng)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("export %s: %w", rng.Start.Format("2006-01"), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move archive into place: %w", err)
	}

	a.logger.Info().Str("path", path).Int("reservations", n).Msg("Monthly archive written")
	return path, nil
}
