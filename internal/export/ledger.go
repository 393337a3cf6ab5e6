// Package export builds the booking ledger spreadsheet and ships it to
// object storage.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"gearshare/internal/models"
	"gearshare/internal/pricing"
)

const (
	ledgerSheet = "Ledger"
	totalsSheet = "Totals"
	// XLSXContentType is the MIME type of the generated report.
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	pageSize = 500
)

var ledgerHeaders = []string{
	"Booking", "Item", "Category", "Renter", "Owner", "Start", "End", "Status",
	"Renter price", "Renter fee", "Renter total", "Renter currency",
	"Owner price", "Owner fee", "Owner net", "Owner currency",
	"Captured at", "Payout at",
}

type BookingLister interface {
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

// Uploader stores a finished report and returns where it can be fetched.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Report describes one saved ledger export.
type Report struct {
	Path string
	URL  string
	Rows int
}

type LedgerExporter struct {
	bookings BookingLister
	dir      string
	uploader Uploader
	now      func() time.Time
	logger   zerolog.Logger
}

// NewLedgerExporter writes reports into dir. uploader may be nil.
func NewLedgerExporter(bookings BookingLister, dir string, uploader Uploader, logger *zerolog.Logger) *LedgerExporter {
	return &LedgerExporter{
		bookings: bookings,
		dir:      dir,
		uploader: uploader,
		now:      time.Now,
		logger:   logger.With().Str("component", "export").Logger(),
	}
}

// Write renders the ledger of bookings overlapping [from, to) as xlsx.
func (e *LedgerExporter) Write(ctx context.Context, w io.Writer, from, to time.Time) (int, error) {
	list, err := e.collect(ctx, from, to)
	if err != nil {
		return 0, err
	}

	f, err := buildWorkbook(list, from, to)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("error writing workbook: %w", err)
	}
	return len(list), nil
}

// Export saves the ledger under the export directory and uploads it when an
// uploader is configured.
func (e *LedgerExporter) Export(ctx context.Context, from, to time.Time) (*Report, error) {
	var buf bytes.Buffer
	rows, err := e.Write(ctx, &buf, from, to)
	if err != nil {
		return nil, err
	}

	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating export directory: %w", err)
	}
	name := fmt.Sprintf("ledger_%s_to_%s_%d.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"), e.now().Unix())
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("error saving file: %w", err)
	}

	report := &Report{Path: path, Rows: rows}
	if e.uploader != nil {
		url, err := e.uploader.Upload(ctx, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()), XLSXContentType)
		if err != nil {
			return report, fmt.Errorf("upload ledger: %w", err)
		}
		report.URL = url
	}

	e.logger.Info().Str("file_path", path).Int("rows", rows).Str("url", report.URL).Msg("Ledger exported")
	return report, nil
}

func (e *LedgerExporter) collect(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	var out []*models.Booking
	for offset := 0; ; offset += pageSize {
		page, err := e.bookings.ListBookings(ctx, models.BookingFilter{From: from, To: to, Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("error getting bookings: %w", err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}

func buildWorkbook(list []*models.Booking, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(totalsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(ledgerSheet, "A1", fmt.Sprintf("Period: %s - %s", from.Format("02.01.2006"), to.Format("02.01.2006")))
	lastCol, _ := excelize.ColumnNumberToName(len(ledgerHeaders))
	_ = f.MergeCell(ledgerSheet, "A1", lastCol+"1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range ledgerHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(ledgerSheet, cell, h)
	}
	_ = f.SetCellStyle(ledgerSheet, "A2", lastCol+"2", headerStyle)

	for i, b := range list {
		row := []interface{}{
			b.ID, b.ItemName, b.Category, b.Renter.Name, b.Owner.Name,
			b.Start.UTC().Format(time.RFC3339), b.End.UTC().Format(time.RFC3339), b.Status,
			b.RenterPrice, b.RenterFee, b.RenterCharge(), b.RenterCurrency,
			b.OwnerPrice, b.OwnerFee, b.OwnerNet(), b.OwnerCurrency,
			formatTime(b.CapturedAt), formatTime(b.PayoutAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(ledgerSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row: %w", err)
		}
	}
	_ = f.SetColWidth(ledgerSheet, "A", lastCol, 16)

	writeTotals(f, list)
	return f, nil
}

type totals struct {
	captured float64
	fees     float64
	paidOut  float64
}

// writeTotals sums settled money per currency: captured renter charges and
// owner payouts.
func writeTotals(f *excelize.File, list []*models.Booking) {
	byCurrency := make(map[string]*totals)
	get := func(cur string) *totals {
		t, ok := byCurrency[cur]
		if !ok {
			t = &totals{}
			byCurrency[cur] = t
		}
		return t
	}
	for _, b := range list {
		if b.CapturedAt != nil {
			t := get(b.RenterCurrency)
			t.captured += b.RenterCharge()
			t.fees += b.RenterFee
		}
		if b.PayoutAt != nil {
			t := get(b.OwnerCurrency)
			t.paidOut += b.OwnerNet()
			t.fees += b.OwnerFee
		}
	}

	currencies := make([]string, 0, len(byCurrency))
	for c := range byCurrency {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	_ = f.SetSheetRow(totalsSheet, "A1", &[]interface{}{"Currency", "Captured", "Paid out", "Platform fees"})
	for i, c := range currencies {
		t := byCurrency[c]
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(totalsSheet, cell, &[]interface{}{c, pricing.RoundCents(t.captured), pricing.RoundCents(t.paidOut), pricing.RoundCents(t.fees)})
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
