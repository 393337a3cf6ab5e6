package google

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"gearshare/internal/domain"
	"gearshare/internal/models"
	"gearshare/internal/notify"
)

// SheetsService appends rows to one spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewSheetsService authenticates with a service account key file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string) (*SheetsService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	return NewSheetsServiceWithOptions(ctx, spreadsheetID, option.WithHTTPClient(config.Client(ctx)))
}

// NewSheetsServiceWithOptions builds the service from explicit client options.
func NewSheetsServiceWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return &SheetsService{service: srv, spreadsheetID: spreadsheetID}, nil
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context, sheet string) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, sheet+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// AppendRows adds rows after the last filled row of a sheet.
func (s *SheetsService) AppendRows(ctx context.Context, sheet string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, sheet+"!A:A", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sheet, err)
	}
	return nil
}

// SheetsSink keeps an audit trail of notifications in a spreadsheet tab.
type SheetsSink struct {
	appender domain.SheetsAppender
	sheet    string
	now      func() time.Time
}

func NewSheetsSink(appender domain.SheetsAppender, sheet string) *SheetsSink {
	return &SheetsSink{appender: appender, sheet: sheet, now: time.Now}
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Deliver(ctx context.Context, n *models.Notification) error {
	return s.appender.AppendRows(ctx, s.sheet, [][]interface{}{NotificationRow(n, s.now())})
}

// NotificationRow is the audit row layout: time, key, event, booking, role,
// recipient, subject.
func NotificationRow(n *models.Notification, at time.Time) []interface{} {
	return []interface{}{
		at.UTC().Format("2006-01-02 15:04:05"),
		n.EventKey,
		n.EventType,
		n.BookingID,
		n.RecipientRole,
		n.RecipientEmail,
		notify.Subject(n.EventType),
	}
}
