// Package export writes booking audit workbooks.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"rentflow/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	summarySheet  = "Summary"
)

// Source is the read side the exporter needs.
type Source interface {
	GetBookingsByStartRange(ctx context.Context, start, end time.Time, propertyID int64) ([]*models.Booking, error)
	ListProperties(ctx context.Context) ([]models.Property, error)
}

type Exporter struct {
	source Source
	dir    string
	logger *zerolog.Logger
}

func NewExporter(source Source, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if dir == "" {
		dir = "exports"
	}
	return &Exporter{source: source, dir: dir, logger: logger}
}

// Export writes bookings starting within [from, to] to a new workbook and returns its path.
// A zero propertyID exports every property.
func (e *Exporter) Export(ctx context.Context, from, to time.Time, propertyID int64) (string, error) {
	from, to = models.DateOf(from), models.DateOf(to)
	if to.Before(from) {
		return "", fmt.Errorf("export range %s..%s is reversed", models.FormatDate(from), models.FormatDate(to))
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	bookings, err := e.source.GetBookingsByStartRange(ctx, from, to, propertyID)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %w", err)
	}
	properties, err := e.source.ListProperties(ctx)
	if err != nil {
		return "", fmt.Errorf("error getting properties: %w", err)
	}
	titles := make(map[int64]string, len(properties))
	for _, p := range properties {
		titles[p.ID] = p.Title
	}

	name := fmt.Sprintf("bookings_%s_to_%s.xlsx", models.FormatDate(from), models.FormatDate(to))
	if propertyID != 0 {
		name = fmt.Sprintf("bookings_%d_%s_to_%s.xlsx", propertyID, models.FormatDate(from), models.FormatDate(to))
	}
	path := filepath.Join(e.dir, name)

	if err := WriteBookings(path, from, to, bookings, titles); err != nil {
		return "", err
	}
	e.logger.Info().Str("file_path", path).Int("bookings", len(bookings)).Msg("Excel file created")
	return path, nil
}

var bookingHeaders = []string{
	"ID", "Property", "Renter", "Start", "End", "Days", "Monthly rent", "Total", "Status", "Cancel until", "Created", "Confirmed", "Completed",
}

// WriteBookings saves a two-sheet workbook: one row per booking and a per-property summary.
func WriteBookings(path string, from, to time.Time, bookings []*models.Booking, titles map[int64]string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})

	_ = f.SetCellValue(bookingsSheet, "A1", fmt.Sprintf("Period: %s - %s", models.FormatDate(from), models.FormatDate(to)))
	_ = f.SetCellStyle(bookingsSheet, "A1", "A1", titleStyle)

	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(bookingsSheet, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(bookingHeaders), 2)
	_ = f.SetCellStyle(bookingsSheet, "A2", lastHeader, headerStyle)

	for i, b := range bookings {
		row := i + 3
		values := []any{
			b.ID,
			propertyLabel(b.PropertyID, titles),
			b.RenterID,
			models.FormatDate(b.StartDate),
			models.FormatDate(b.EndDate),
			b.Days(),
			b.MonthlyRent.StringFixed(2),
			b.TotalAmount.StringFixed(2),
			string(b.Status),
			formatOptionalDate(b.CancelUntil),
			b.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(b.ConfirmedAt),
			formatOptionalTime(b.CompletedAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(bookingsSheet, cell, &values); err != nil {
			return fmt.Errorf("error writing row %d: %w", row, err)
		}
	}
	_ = f.SetColWidth(bookingsSheet, "A", "A", 8)
	_ = f.SetColWidth(bookingsSheet, "B", "B", 25)
	_ = f.SetColWidth(bookingsSheet, "C", "M", 14)

	writeSummary(f, bookings, titles, headerStyle)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}

type propertySummary struct {
	counts  map[models.BookingStatus]int
	revenue decimal.Decimal
}

// writeSummary counts bookings per status and sums the totals of stays that went ahead.
func writeSummary(f *excelize.File, bookings []*models.Booking, titles map[int64]string, headerStyle int) {
	statuses := []models.BookingStatus{
		models.StatusPending, models.StatusConfirmed, models.StatusRejected, models.StatusCancelled, models.StatusCompleted,
	}

	byProperty := make(map[int64]*propertySummary)
	for _, b := range bookings {
		s, ok := byProperty[b.PropertyID]
		if !ok {
			s = &propertySummary{counts: make(map[models.BookingStatus]int)}
			byProperty[b.PropertyID] = s
		}
		s.counts[b.Status]++
		if b.Status == models.StatusConfirmed || b.Status == models.StatusCompleted {
			s.revenue = s.revenue.Add(b.TotalAmount)
		}
	}
	ids := make([]int64, 0, len(byProperty))
	for id := range byProperty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	header := []any{"Property"}
	for _, st := range statuses {
		header = append(header, string(st))
	}
	header = append(header, "Revenue")
	_ = f.SetSheetRow(summarySheet, "A1", &header)
	lastHeader, _ := excelize.CoordinatesToCellName(len(header), 1)
	_ = f.SetCellStyle(summarySheet, "A1", lastHeader, headerStyle)

	for i, id := range ids {
		s := byProperty[id]
		row := []any{propertyLabel(id, titles)}
		for _, st := range statuses {
			row = append(row, s.counts[st])
		}
		row = append(row, s.revenue.StringFixed(2))
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(summarySheet, cell, &row)
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 25)
}

func propertyLabel(id int64, titles map[int64]string) string {
	if t := titles[id]; t != "" {
		return fmt.Sprintf("%s (#%d)", t, id)
	}
	return fmt.Sprintf("#%d", id)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return models.FormatDate(*t)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
