package api

import (
	"net/http"

	"spadesk/internal/models"
)

// LocationStatusRequest is the body of PUT /api/locations/{ref}/status.
type LocationStatusRequest struct {
	Dirty        *bool `json:"dirty,omitempty"`
	OutOfService *bool `json:"out_of_service,omitempty"`
}

// GET /api/locations
func (s *HTTPServer) handleListLocations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListLocations(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Location{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": list})
}

// PUT /api/locations/{ref}/status
func (s *HTTPServer) handleLocationStatus(w http.ResponseWriter, r *http.Request) {
	var req LocationStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	loc, err := s.svc.UpdateLocationStatus(r.Context(), models.LocationStatus{
		Ref:          r.PathValue("ref"),
		Dirty:        req.Dirty,
		OutOfService: req.OutOfService,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}
