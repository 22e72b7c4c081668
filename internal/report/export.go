package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spadesk/internal/models"
)

// Source lists what the export reads.
type Source interface {
	ListReservations(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, error)
}

var reservationColumns = []string{
	"ID", "Guest", "Staff", "Room", "Date", "Start", "End", "Status",
	"Services", "Total", "Deposit required", "Deposit paid", "Deposit refunded", "Cancellation reason",
}

var summaryColumns = []string{"Staff", "Reservations", "Checked out", "Cancelled", "No-show", "Revenue"}

// Exporter builds the reservations workbook for a date range.
type Exporter struct {
	source    Source
	loc       *time.Location
	newWriter func() SheetWriter
	logger    *zerolog.Logger
}

func NewExporter(source Source, loc *time.Location, logger *zerolog.Logger) *Exporter {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{
		source:    source,
		loc:       loc,
		newWriter: func() SheetWriter { return NewExcelizeWriter() },
		logger:    logger,
	}
}

// FileName is the suggested attachment name for rng.
func (e *Exporter) FileName(rng models.Interval) string {
	from := rng.Start.In(e.loc).Format("2006-01-02")
	to := rng.End.Add(-time.Nanosecond).In(e.loc).Format("2006-01-02")
	if from == to {
		return fmt.Sprintf("reservations_%s.xlsx", from)
	}
	return fmt.Sprintf("reservations_%s_%s.xlsx", from, to)
}

// Export writes a workbook with every reservation overlapping rng and a
// per-staff summary to w. It returns the number of reservations exported.
func (e *Exporter) Export(ctx context.Context, w io.Writer, rng models.Interval) (int, error) {
	if err := rng.Validate(); err != nil {
		return 0, models.InvalidInput("%v", err)
	}
	list, err := e.source.ListReservations(ctx, models.ReservationFilter{Range: &rng})
	if err != nil {
		return 0, fmt.Errorf("list reservations: %w", err)
	}

	xw := e.newWriter()
	defer xw.Close()

	if err := xw.AddSheet("Reservations"); err != nil {
		return 0, err
	}
	if err := xw.WriteHeader(reservationColumns); err != nil {
		return 0, err
	}
	for i := range list {
		if err := xw.WriteRow(e.reservationRow(&list[i])); err != nil {
			return 0, fmt.Errorf("write row %s: %w", list[i].ID, err)
		}
	}

	if err := xw.AddSheet("Summary"); err != nil {
		return 0, err
	}
	if err := xw.WriteHeader(summaryColumns); err != nil {
		return 0, err
	}
	for _, row := range summarize(list) {
		if err := xw.WriteRow(row); err != nil {
			return 0, err
		}
	}

	if err := xw.Save(w); err != nil {
		return 0, fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info().
		Time("from", rng.Start).
		Time("to", rng.End).
		Int("reservations", len(list)).
		Msg("reservations exported")
	return len(list), nil
}

func (e *Exporter) reservationRow(r *models.Reservation) []any {
	start := r.Interval.Start.In(e.loc)
	end := r.Interval.End.In(e.loc)
	services := make([]string, 0, len(r.Services))
	for _, l := range r.Services {
		if l.Quantity > 1 {
			services = append(services, fmt.Sprintf("%s x%d", l.ServiceRef, l.Quantity))
		} else {
			services = append(services, l.ServiceRef)
		}
	}
	return []any{
		r.ID, r.GuestRef, r.ResourceRef, r.LocationRef,
		start.Format("2006-01-02"), start.Format("15:04"), end.Format("15:04"),
		string(r.Status), strings.Join(services, ", "), r.TotalPrice(),
		yesNo(r.DepositRequired), yesNo(r.DepositPaid), yesNo(r.DepositRefunded),
		r.CancellationReasonRef,
	}
}

type staffTotals struct {
	count, checkedOut, cancelled, noShow int
	revenue                              int64
}

func summarize(list []models.Reservation) [][]any {
	totals := make(map[string]*staffTotals)
	for i := range list {
		r := &list[i]
		ref := r.ResourceRef
		if ref == "" {
			ref = "(unassigned)"
		}
		t, ok := totals[ref]
		if !ok {
			t = &staffTotals{}
			totals[ref] = t
		}
		t.count++
		switch r.Status {
		case models.StatusCheckedOut:
			t.checkedOut++
			t.revenue += r.TotalPrice()
		case models.StatusCancelled:
			t.cancelled++
		case models.StatusNoShow:
			t.noShow++
		}
	}

	refs := make([]string, 0, len(totals))
	for ref := range totals {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	rows := make([][]any, 0, len(refs))
	for _, ref := range refs {
		t := totals[ref]
		rows = append(rows, []any{ref, t.count, t.checkedOut, t.cancelled, t.noShow, t.revenue})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
