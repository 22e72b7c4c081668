// Package api exposes the booking service over HTTP.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"spadesk/internal/deposit"
	"spadesk/internal/metrics"
	"spadesk/internal/models"
	"spadesk/internal/report"
	"spadesk/internal/scheduler"
	"spadesk/internal/service"
)

// Options configure authentication and throttling.
type Options struct {
	APIKeys        []string
	RateLimitRPS   float64
	RateLimitBurst int
	// TrustedProxies are addresses or CIDRs whose X-Forwarded-For is honored.
	TrustedProxies []string
	Location       *time.Location
}

// limiterIdleTTL is how long an unused per-client limiter is kept.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// HTTPServer serves the reservation API.
type HTTPServer struct {
	svc      *service.BookingService
	exporter *report.Exporter
	opts     Options
	logger   *zerolog.Logger

	proxies []netip.Prefix

	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func NewHTTPServer(svc *service.BookingService, exporter *report.Exporter, opts Options, logger *zerolog.Logger) *HTTPServer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &HTTPServer{
		svc:      svc,
		exporter: exporter,
		opts:     opts,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
	for _, p := range opts.TrustedProxies {
		prefix, err := parsePrefix(p)
		if err != nil {
			logger.Warn().Err(err).Str("proxy", p).Msg("ignoring trusted proxy")
			continue
		}
		s.proxies = append(s.proxies, prefix)
	}
	return s
}

func parsePrefix(v string) (netip.Prefix, error) {
	v = strings.TrimSpace(v)
	if strings.Contains(v, "/") {
		return netip.ParsePrefix(v)
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Handler returns the routed handler with auth, rate limiting and metrics applied.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /api/reservations", "list_reservations", s.handleListReservations)
	s.route(mux, "POST /api/reservations", "create_reservation", s.handleCreateReservation)
	s.route(mux, "GET /api/reservations/export", "export_reservations", s.handleExport)
	s.route(mux, "GET /api/reservations/{id}", "get_reservation", s.handleGetReservation)
	s.route(mux, "PATCH /api/reservations/{id}", "update_reservation", s.handleUpdateReservation)
	s.route(mux, "POST /api/reservations/{id}/actions", "status_action", s.handleStatusAction)

	s.route(mux, "GET /api/reservations/{id}/deposit", "get_deposit", s.handleGetDeposit)
	s.route(mux, "POST /api/reservations/{id}/deposit", "require_deposit", s.handleRequireDeposit)
	s.route(mux, "POST /api/reservations/{id}/deposit/payments", "pay_deposit", s.handlePayDeposit)
	s.route(mux, "POST /api/reservations/{id}/deposit/refund", "refund_deposit", s.handleRefundDeposit)

	s.route(mux, "POST /api/availability", "availability", s.handleAvailability)
	s.route(mux, "POST /api/conflicts", "conflicts", s.handleConflicts)

	s.route(mux, "GET /api/shift-rules", "list_shift_rules", s.handleListShiftRules)
	s.route(mux, "PUT /api/shift-rules", "upsert_shift_rule", s.handleUpsertShiftRule)
	s.route(mux, "GET /api/calendar", "calendar", s.handleCalendar)

	s.route(mux, "GET /api/locations", "list_locations", s.handleListLocations)
	s.route(mux, "PUT /api/locations/{ref}/status", "location_status", s.handleLocationStatus)

	return mux
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, s.rateLimit(s.authenticate(h))))
}

func (s *HTTPServer) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.IncHTTP(name)
		next.ServeHTTP(w, r)
		metrics.ObserveHTTP(name, time.Since(start).Seconds())
	})
}

func (s *HTTPServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.opts.APIKeys) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("x-api-key")
		for _, allowed := range s.opts.APIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(allowed)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "missing or invalid api key")
	})
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.RateLimitRPS <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := s.clientIP(r)
		if !s.limiter(ip).Allow() {
			s.logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterIdleTTL {
		for key, cl := range s.limiters {
			if now.Sub(cl.lastSeen) >= limiterIdleTTL {
				delete(s.limiters, key)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.limiters[ip]
	if !ok {
		burst := s.opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		cl = &clientLimiter{lim: rate.NewLimiter(rate.Limit(s.opts.RateLimitRPS), burst)}
		s.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.lim
}

// clientIP is the peer address, or the nearest untrusted X-Forwarded-For hop
// when the peer is a trusted proxy.
func (s *HTTPServer) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (s *HTTPServer) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error          string              `json:"error"`
	Reason         string              `json:"reason,omitempty"`
	ReservationIDs []string            `json:"reservation_ids,omitempty"`
	BlockIDs       []string            `json:"block_ids,omitempty"`
	Committed      *models.Reservation `json:"committed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to HTTP statuses. A rejection carries
// the last committed state so clients can revert optimistic UI.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Reason: reasonFor(err)}

	var ce *models.ConflictError
	if errors.As(err, &ce) {
		resp.ReservationIDs = ce.ReservationIDs
		resp.BlockIDs = ce.BlockIDs
	}
	var rej *scheduler.Rejection
	if errors.As(err, &rej) {
		resp.Error = rej.Err.Error()
		resp.Committed = rej.Committed
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var pv *models.PolicyViolation
	var ce *models.ConflictError
	var te *models.TransportError
	switch {
	case errors.As(err, &pv):
		return http.StatusUnprocessableEntity
	case errors.As(err, &ce),
		errors.Is(err, models.ErrIllegalTransition),
		errors.Is(err, models.ErrRoomDirty),
		errors.Is(err, models.ErrRoomOccupied),
		errors.Is(err, models.ErrRoomOutOfService),
		errors.Is(err, models.ErrRefundRequiredFirst),
		errors.Is(err, models.ErrConcurrentModification),
		errors.Is(err, deposit.ErrNotRequired),
		errors.Is(err, deposit.ErrNotPaid),
		errors.Is(err, deposit.ErrAlreadyPaid),
		errors.Is(err, deposit.ErrAlreadyRefunded):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrReasonRequired),
		errors.Is(err, models.ErrResizeNotAllowed):
		return http.StatusBadRequest
	case errors.As(err, &te):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, models.ErrRoomDirty):
		return "room_dirty"
	case errors.Is(err, models.ErrRoomOccupied):
		return "room_occupied"
	case errors.Is(err, models.ErrRoomOutOfService):
		return "room_out_of_service"
	case errors.Is(err, models.ErrRefundRequiredFirst):
		return "refund_required_first"
	case errors.Is(err, models.ErrReasonRequired):
		return "reason_required"
	case errors.Is(err, deposit.ErrNotRequired):
		return "deposit_not_required"
	case errors.Is(err, deposit.ErrNotPaid):
		return "deposit_not_paid"
	case errors.Is(err, deposit.ErrAlreadyPaid):
		return "deposit_already_paid"
	case errors.Is(err, deposit.ErrAlreadyRefunded):
		return "deposit_already_refunded"
	}
	if label := scheduler.ReasonLabel(err); label != "unknown" {
		return label
	}
	return ""
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
