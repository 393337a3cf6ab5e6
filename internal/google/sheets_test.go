package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"gearshare/internal/models"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsService) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	s, err := NewSheetsServiceWithOptions(context.Background(), "audit_tid", option.WithEndpoint(server.URL), option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return mux, s
}

func TestSheetsService_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Notifications!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"time"}}})
	})
	if err := s.TestConnection(context.Background(), "Notifications"); err != nil {
		t.Errorf("TestConnection failed: %v", err)
	}
}

func TestSheetsSink_Deliver(t *testing.T) {
	mux, s := setupMockServer(t)

	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Notifications!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			t.Errorf("expected RAW input option, got %q", r.URL.Query().Get("valueInputOption"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Notifications!A2:G2"},
		})
	})

	sink := NewSheetsSink(s, "Notifications")
	sink.now = func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }

	n := &models.Notification{EventKey: "booking:5:payout:owner", EventType: models.EventPayout, BookingID: 5, RecipientRole: models.RoleOwner, RecipientEmail: "bob@example.com"}
	if err := sink.Deliver(context.Background(), n); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if len(got.Values) != 1 || len(got.Values[0]) != 7 {
		t.Fatalf("expected one row of 7 cells, got %v", got.Values)
	}
	if got.Values[0][0] != "2025-07-01 12:00:00" || got.Values[0][1] != "booking:5:payout:owner" {
		t.Errorf("unexpected row: %v", got.Values[0])
	}
}

func TestSheetsService_AppendError(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Notifications!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	if err := s.AppendRows(context.Background(), "Notifications", [][]interface{}{{"x"}}); err == nil {
		t.Errorf("expected error on 403")
	}
	if err := s.AppendRows(context.Background(), "Notifications", nil); err != nil {
		t.Errorf("empty append must be a no-op: %v", err)
	}
}
