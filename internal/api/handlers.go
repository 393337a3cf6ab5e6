package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"gearshare/internal/apperr"
	"gearshare/internal/availability"
	"gearshare/internal/export"
	"gearshare/internal/models"
	"gearshare/internal/service"
)

type createBookingRequest struct {
	Category  string    `json:"category"`
	ItemID    int64     `json:"item_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CardID    string    `json:"card_id"`
	ReturnURL string    `json:"return_url"`
}

type updateStatusRequest struct {
	Status    string `json:"status"`
	PreauthID string `json:"preauth_id"`
}

type calendarRequest struct {
	Intervals []availability.IntervalInput `json:"intervals"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}

	var body createBookingRequest
	if !decodeBody(w, r, &body) {
		return
	}

	res, err := s.deps.Bookings.Create(r.Context(), service.CreateRequest{
		RenterID:  actorID,
		Category:  body.Category,
		ItemID:    body.ItemID,
		Start:     body.Start,
		End:       body.End,
		CardID:    body.CardID,
		ReturnURL: body.ReturnURL,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, ps)
	if !ok {
		return
	}

	b, err := s.deps.Bookings.GetBooking(r.Context(), actorID, id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleListBookings lists the actor's own bookings.
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.BookingFilter{PartyID: actorID, Statuses: splitCSV(q.Get("status"))}
	var err error
	if filter.ItemID, err = optionalInt(q.Get("item_id")); err != nil {
		s.writeAppError(w, r, apperr.Validation("invalid item_id", map[string]any{"item_id": q.Get("item_id")}))
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		s.writeAppError(w, r, apperr.Validation("invalid limit", map[string]any{"limit": q.Get("limit")}))
		return
	}
	offset, err := optionalInt(q.Get("offset"))
	if err != nil {
		s.writeAppError(w, r, apperr.Validation("invalid offset", map[string]any{"offset": q.Get("offset")}))
		return
	}
	filter.Limit, filter.Offset = int(limit), int(offset)

	list, err := s.deps.Bookings.ListBookings(r.Context(), filter)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, ps)
	if !ok {
		return
	}

	var body updateStatusRequest
	if !decodeBody(w, r, &body) {
		return
	}

	b, err := s.deps.Bookings.UpdateStatus(r.Context(), actorID, id, strings.TrimSpace(body.Status), strings.TrimSpace(body.PreauthID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleGetCalendar(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, ok := s.pathID(w, r, ps)
	if !ok {
		return
	}
	free, err := s.deps.Calendars.GetCalendar(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "intervals": intervalsJSON(free)})
}

func (s *HTTPServer) handleSetCalendar(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	actorID, ok := s.actor(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r, ps)
	if !ok {
		return
	}

	var body calendarRequest
	if !decodeBody(w, r, &body) {
		return
	}

	set, err := s.deps.Calendars.SetCalendar(r.Context(), actorID, id, body.Intervals)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "intervals": intervalsJSON(set)})
}

func (s *HTTPServer) handleLedgerReport(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusNotFound, "reports are disabled")
		return
	}

	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		s.writeAppError(w, r, apperr.Validation("invalid date format; expected YYYY-MM-DD", map[string]any{"from": q.Get("from")}))
		return
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil || !to.After(from) {
		s.writeAppError(w, r, apperr.Validation("to must be a date after from", map[string]any{"to": q.Get("to")}))
		return
	}

	w.Header().Set("Content-Type", export.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="bookings_%s_%s.xlsx"`, q.Get("from"), q.Get("to")))
	if _, err := s.deps.Ledger.Write(r.Context(), w, from, to); err != nil {
		// Заголовки уже могли уйти клиенту, поэтому только логируем.
		s.logger.Error().Err(err).Msg("Ledger report failed")
	}
}

func (s *HTTPServer) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := s.auth.Actor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) pathID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (int64, bool) {
	raw := ps.ByName("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeAppError(w, r, apperr.Validation("invalid id", map[string]any{"id": raw}))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func intervalsJSON(list []models.Interval) []models.Interval {
	if list == nil {
		return []models.Interval{}
	}
	return list
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
