package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"spadesk/internal/lifecycle"
	"spadesk/internal/models"
	"spadesk/internal/scheduler"
)

const dateLayout = "2006-01-02"

// ReservationListResponse is the response for GET /api/reservations.
type ReservationListResponse struct {
	Reservations []models.Reservation `json:"reservations"`
	Count        int                  `json:"count"`
	Page         *Page                `json:"page,omitempty"`
}

// StatusActionRequest is the body of POST /api/reservations/{id}/actions.
type StatusActionRequest struct {
	Action string `json:"action"`
	lifecycle.Options
}

// GET /api/reservations?resource=&location=&guest=&status=&from=&to=&active=&page=&per_page=
func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage, paged, err := parsePage(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := models.ReservationFilter{
		ResourceRef: q.Get("resource"),
		LocationRef: q.Get("location"),
		GuestRef:    q.Get("guest"),
	}
	if st := q.Get("status"); st != "" {
		status, ok := models.ParseStatus(st)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", st))
			return
		}
		filter.Status = status
	}
	if active := q.Get("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be a boolean")
			return
		}
		filter.ActiveOnly = v
	}
	if q.Get("from") != "" || q.Get("to") != "" {
		rng, err := s.parseRange(q.Get("from"), q.Get("to"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Range = &rng
	}

	list, err := s.svc.ListReservations(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Reservation{}
	}
	resp := ReservationListResponse{Reservations: list}
	if paged {
		start, end, meta := paginate(len(list), page, perPage)
		resp.Reservations = list[start:end]
		resp.Page = &meta
	}
	resp.Count = len(resp.Reservations)
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/reservations/{id}
func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.GetReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/reservations
func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var in scheduler.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.CreateReservation(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// PATCH /api/reservations/{id}
func (s *HTTPServer) handleUpdateReservation(w http.ResponseWriter, r *http.Request) {
	var patch scheduler.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.UpdateReservation(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/reservations/{id}/actions
func (s *HTTPServer) handleStatusAction(w http.ResponseWriter, r *http.Request) {
	var req StatusActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action, ok := lifecycle.ParseAction(req.Action)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	res, err := s.svc.ApplyStatusAction(r.Context(), r.PathValue("id"), action, req.Options)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/reservations/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	rng, err := s.parseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.exporter.FileName(rng)))
	if _, err := s.exporter.Export(r.Context(), w, rng); err != nil {
		w.Header().Del("Content-Disposition")
		s.writeServiceError(w, r, err)
	}
}

// parseRange accepts RFC3339 timestamps or dates. A date as "to" is inclusive
// and extends to the end of that day.
func (s *HTTPServer) parseRange(from, to string) (models.Interval, error) {
	start, err := s.parseTime(from, false)
	if err != nil {
		return models.Interval{}, fmt.Errorf("invalid from: %w", err)
	}
	end, err := s.parseTime(to, true)
	if err != nil {
		return models.Interval{}, fmt.Errorf("invalid to: %w", err)
	}
	if from == "" {
		start = end.AddDate(0, 0, -1)
	}
	if to == "" {
		end = start.AddDate(0, 0, 1)
	}
	return models.NewInterval(start, end)
}

func (s *HTTPServer) parseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(dateLayout, v, s.opts.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", v)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}
