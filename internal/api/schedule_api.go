package api

import (
	"fmt"
	"net/http"
	"time"

	"spadesk/internal/availability"
	"spadesk/internal/conflict"
	"spadesk/internal/models"
	"spadesk/internal/schedule"
)

// ConflictsRequest is the body of POST /api/conflicts.
type ConflictsRequest struct {
	conflict.Proposal
	ExcludeReservationID string `json:"exclude_reservation_id,omitempty"`
}

// ShiftRuleRequest is the body of PUT /api/shift-rules. EffectiveFrom is a
// YYYY-MM-DD date; empty means the standing rule.
type ShiftRuleRequest struct {
	ID            string `json:"id,omitempty"`
	ResourceRef   string `json:"resource_ref"`
	DayOfWeek     int    `json:"day_of_week"`
	IsDayOff      bool   `json:"is_day_off"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	EffectiveFrom string `json:"effective_from,omitempty"`
}

// ShiftRulesResponse is the response for GET /api/shift-rules.
type ShiftRulesResponse struct {
	Rules     []models.WeeklyShiftRule `json:"rules"`
	WeekStart string                   `json:"week_start,omitempty"`
}

// CalendarResponse is the response for GET /api/calendar.
type CalendarResponse struct {
	ResourceRef string              `json:"resource_ref"`
	Date        string              `json:"date"`
	DayOff      bool                `json:"day_off"`
	Slots       []schedule.SlotInfo `json:"slots"`
	FreeRanges  []models.Interval   `json:"free_ranges"`
}

// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var p availability.Proposal
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := p.Interval.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.CheckAvailability(r.Context(), p)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/conflicts
func (s *HTTPServer) handleConflicts(w http.ResponseWriter, r *http.Request) {
	var req ConflictsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Interval.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.CheckConflicts(r.Context(), req.Proposal, req.ExcludeReservationID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/shift-rules?resource=&week_start=YYYY-MM-DD
func (s *HTTPServer) handleListShiftRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var weekStart *time.Time
	resp := ShiftRulesResponse{}
	if v := q.Get("week_start"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid week_start format; expected YYYY-MM-DD")
			return
		}
		ws := schedule.WeekStart(d)
		weekStart = &ws
		resp.WeekStart = ws.Format(dateLayout)
	}
	rules, err := s.svc.ListWeeklyShiftRules(r.Context(), q.Get("resource"), weekStart)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if rules == nil {
		rules = []models.WeeklyShiftRule{}
	}
	resp.Rules = rules
	writeJSON(w, http.StatusOK, resp)
}

// PUT /api/shift-rules
func (s *HTTPServer) handleUpsertShiftRule(w http.ResponseWriter, r *http.Request) {
	var req ShiftRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rule := models.WeeklyShiftRule{
		ID:          req.ID,
		ResourceRef: req.ResourceRef,
		DayOfWeek:   req.DayOfWeek,
		IsDayOff:    req.IsDayOff,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
	}
	if req.EffectiveFrom != "" {
		d, err := time.ParseInLocation(dateLayout, req.EffectiveFrom, s.opts.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid effective_from format; expected YYYY-MM-DD")
			return
		}
		rule.EffectiveFrom = &d
	}
	saved, err := s.svc.UpsertShiftRule(r.Context(), rule)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// GET /api/calendar?resource=&date=YYYY-MM-DD
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.ParseInLocation(dateLayout, q.Get("date"), s.opts.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q; expected YYYY-MM-DD", q.Get("date")))
		return
	}
	day, err := s.svc.Calendar(r.Context(), q.Get("resource"), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	free := schedule.FreeRanges(day.Slots)
	if free == nil {
		free = []models.Interval{}
	}
	writeJSON(w, http.StatusOK, CalendarResponse{
		ResourceRef: day.ResourceRef,
		Date:        date.Format(dateLayout),
		DayOff:      day.DayOff,
		Slots:       schedule.ToSlotInfo(day.Slots),
		FreeRanges:  free,
	})
}
