package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"spadesk/internal/deposit"
	"spadesk/internal/locks"
	"spadesk/internal/models"
	"spadesk/internal/report"
	"spadesk/internal/repository"
	"spadesk/internal/scheduler"
	"spadesk/internal/service"
)

const testKey = "secret-key"

// Wednesday 2025-03-12.
func at(h, m int) time.Time {
	return time.Date(2025, 3, 12, h, m, 0, 0, time.UTC)
}

type testServer struct {
	srv     *HTTPServer
	handler http.Handler
	store   *repository.MemoryStore
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SyncLocations(ctx, []models.Location{
		{Ref: "room-1", Name: "Lotus", Capacity: 1},
		{Ref: "room-2", Name: "Jasmine", Capacity: 1, AllowedServices: []string{"facial"}},
	}))
	require.NoError(t, store.UpsertShiftRule(ctx, models.WeeklyShiftRule{ID: "s1-wed", ResourceRef: "S1", DayOfWeek: 3, StartTime: "09:00", EndTime: "18:00"}))

	logger := zerolog.New(io.Discard)
	clock := models.FixedClock(at(8, 0).AddDate(0, 0, -1))
	svc := service.NewBookingService(store, locks.NewLocalLocker(time.Second), nil, clock, service.Config{Location: time.UTC}, &logger)
	exporter := report.NewExporter(store, time.UTC, &logger)

	if opts.APIKeys == nil {
		opts.APIKeys = []string{testKey}
	}
	opts.Location = time.UTC
	srv := NewHTTPServer(svc, exporter, opts, &logger)
	return &testServer{srv: srv, handler: srv.Handler(), store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("x-api-key", testKey)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T, start time.Time, deposit int64) models.Reservation {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/reservations", scheduler.CreateInput{
		GuestRef:      "guest-1",
		ResourceRef:   "S1",
		LocationRef:   "room-1",
		Start:         start,
		Services:      []models.ServiceLine{{ServiceRef: "massage", DurationMinutes: 60, UnitPrice: 9000, Quantity: 1}},
		DepositAmount: deposit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r models.Reservation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t, Options{})

	tests := []struct {
		name           string
		key            string
		expectedStatus int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/locations", nil).Code)
	}
	rec := ts.do(t, http.MethodGet, "/api/locations", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	spoofed := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
	spoofed.Header.Set("x-api-key", testKey)
	spoofed.Header.Set("X-Forwarded-For", "10.0.0.9")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, spoofed)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "forwarded header from an untrusted peer is ignored")

	other := httptest.NewRequest(http.MethodGet, "/api/locations", nil)
	other.RemoteAddr = "198.51.100.7:4000"
	other.Header.Set("x-api-key", testKey)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client")
}

func TestClientIP(t *testing.T) {
	srv := NewHTTPServer(nil, nil, Options{TrustedProxies: []string{"10.0.0.1", "172.16.0.0/12", "not-an-ip"}}, nil)

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct", "203.0.113.5:1234", "", "203.0.113.5"},
		{"untrusted peer ignores header", "203.0.113.5:1234", "10.9.9.9", "203.0.113.5"},
		{"trusted proxy", "10.0.0.1:1234", "198.51.100.7", "198.51.100.7"},
		{"nearest untrusted hop", "10.0.0.1:1234", "1.2.3.4, 198.51.100.7, 172.16.4.4", "198.51.100.7"},
		{"only proxies", "10.0.0.1:1234", "172.16.4.4", "172.16.4.4"},
		{"trusted proxy without header", "10.0.0.1:1234", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, srv.clientIP(req))
		})
	}
}

func TestLimiter_EvictsIdleClients(t *testing.T) {
	srv := NewHTTPServer(nil, nil, Options{RateLimitRPS: 1, RateLimitBurst: 1}, nil)
	now := at(9, 0)
	srv.now = func() time.Time { return now }

	first := srv.limiter("198.51.100.1")
	srv.limiter("198.51.100.2")
	assert.Len(t, srv.limiters, 2)

	now = now.Add(5 * time.Minute)
	assert.Same(t, first, srv.limiter("198.51.100.1"))

	now = now.Add(limiterIdleTTL)
	srv.limiter("198.51.100.3")
	assert.Len(t, srv.limiters, 1)
	assert.Contains(t, srv.limiters, "198.51.100.3")
}

func TestReservationEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	r := ts.create(t, at(10, 0), 0)
	assert.Equal(t, models.StatusBooked, r.Status)
	assert.Equal(t, at(11, 0), r.Interval.End.UTC())

	t.Run("get", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/reservations/"+r.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, r.ID, decode[models.Reservation](t, rec).ID)
	})

	t.Run("get missing", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/reservations/nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decode[errorResponse](t, rec).Reason)
	})

	t.Run("list", func(t *testing.T) {
		tests := []struct {
			query string
			count int
		}{
			{"", 1},
			{"?resource=S1", 1},
			{"?resource=S2", 0},
			{"?status=booked&location=room-1", 1},
			{"?from=2025-03-12&to=2025-03-12", 1},
			{"?from=2025-03-13", 0},
		}
		for _, tt := range tests {
			rec := ts.do(t, http.MethodGet, "/api/reservations"+tt.query, nil)
			require.Equal(t, http.StatusOK, rec.Code, tt.query)
			assert.Equal(t, tt.count, decode[ReservationListResponse](t, rec).Count, tt.query)
		}
	})

	t.Run("list bad status", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/reservations?status=bogus", nil).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reservations", `{"guest_ref":"g","bogus":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("conflict", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reservations", scheduler.CreateInput{
			GuestRef:    "guest-2",
			ResourceRef: "S1",
			Start:       at(10, 30),
			Services:    []models.ServiceLine{{ServiceRef: "massage", DurationMinutes: 30, Quantity: 1}},
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, "conflict", body.Reason)
		assert.Equal(t, []string{r.ID}, body.ReservationIDs)
	})

	t.Run("policy violation", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reservations", scheduler.CreateInput{
			GuestRef:    "guest-2",
			ResourceRef: "S1",
			Start:       at(18, 0),
			Services:    []models.ServiceLine{{ServiceRef: "massage", DurationMinutes: 30, Quantity: 1}},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, string(models.ReasonOutsideWorkingHours), decode[errorResponse](t, rec).Reason)
	})

	t.Run("incompatible room", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/reservations", scheduler.CreateInput{
			GuestRef:    "guest-2",
			LocationRef: "room-2",
			Start:       at(10, 0),
			Services:    []models.ServiceLine{{ServiceRef: "massage", DurationMinutes: 30, Quantity: 1}},
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, string(models.ReasonIncompatibleRoom), decode[errorResponse](t, rec).Reason)
	})
}

func TestUpdateReservation(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := ts.create(t, at(10, 0), 0)
	b := ts.create(t, at(12, 0), 0)

	t.Run("move", func(t *testing.T) {
		iv := models.Interval{Start: at(13, 0), End: at(14, 0)}
		rec := ts.do(t, http.MethodPatch, "/api/reservations/"+b.ID, scheduler.Patch{Interval: &iv})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[models.Reservation](t, rec)
		assert.Equal(t, at(13, 0), got.Interval.Start.UTC())
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("rejected carries committed state", func(t *testing.T) {
		iv := models.Interval{Start: at(10, 30), End: at(11, 30)}
		rec := ts.do(t, http.MethodPatch, "/api/reservations/"+b.ID, scheduler.Patch{Interval: &iv})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, string(models.ReasonCapacityReached), body.Reason)
		require.NotNil(t, body.Committed)
		assert.Equal(t, b.ID, body.Committed.ID)
		assert.Equal(t, at(13, 0), body.Committed.Interval.Start.UTC())
	})

	t.Run("conflict after leaving the room", func(t *testing.T) {
		iv := models.Interval{Start: at(10, 30), End: at(11, 30)}
		none := ""
		rec := ts.do(t, http.MethodPatch, "/api/reservations/"+b.ID, scheduler.Patch{Interval: &iv, LocationRef: &none})
		require.Equal(t, http.StatusConflict, rec.Code)
		body := decode[errorResponse](t, rec)
		assert.Equal(t, []string{a.ID}, body.ReservationIDs)
		require.NotNil(t, body.Committed)
		assert.Equal(t, "room-1", body.Committed.LocationRef)
	})

	t.Run("resize", func(t *testing.T) {
		iv := models.Interval{Start: at(15, 0), End: at(15, 30)}
		rec := ts.do(t, http.MethodPatch, "/api/reservations/"+b.ID, scheduler.Patch{Interval: &iv})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "resize_not_allowed", decode[errorResponse](t, rec).Reason)
	})
}

func TestStatusActions(t *testing.T) {
	ts := newTestServer(t, Options{})
	r := ts.create(t, at(10, 0), 0)
	path := "/api/reservations/" + r.ID + "/actions"

	rec := ts.do(t, http.MethodPost, path, map[string]any{"action": "complete"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decode[errorResponse](t, rec).Reason)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, path, map[string]any{"action": "teleport"}).Code)

	for _, action := range []string{"check_in", "in_service", "complete", "check_out"} {
		rec = ts.do(t, http.MethodPost, path, map[string]any{"action": action})
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", action, rec.Body.String())
	}
	done := decode[models.Reservation](t, rec)
	assert.Equal(t, models.StatusCheckedOut, done.Status)
	assert.NotNil(t, done.CheckedOutAt)

	rec = ts.do(t, http.MethodGet, "/api/locations", nil)
	var list struct {
		Locations []models.Location `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Locations, 2)
	assert.True(t, list.Locations[0].Dirty, "check_out marks the room dirty")
}

func TestCancelAndDeposit(t *testing.T) {
	ts := newTestServer(t, Options{})
	r := ts.create(t, at(10, 0), 3000)
	base := "/api/reservations/" + r.ID

	rec := ts.do(t, http.MethodPost, base+"/deposit/payments", PaymentRequest{Amount: 3000, Method: "card", Reference: "tx-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[DepositResponse](t, rec)
	assert.True(t, paid.Deposit.IsPaid())
	assert.Equal(t, int64(6000), paid.BalanceDue)

	rec = ts.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "cancel"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason_required", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "cancel", "cancellation_reason_ref": "guest-sick"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "refund_required_first", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, base+"/deposit/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(9000), decode[DepositResponse](t, rec).BalanceDue)

	rec = ts.do(t, http.MethodPost, base+"/deposit/refund", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "deposit_already_refunded", decode[errorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, base+"/actions", map[string]any{"action": "cancel", "cancellation_reason_ref": "guest-sick"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusCancelled, decode[models.Reservation](t, rec).Status)
}

func TestDepositEndpoints(t *testing.T) {
	ts := newTestServer(t, Options{})
	r := ts.create(t, at(10, 0), 0)
	base := "/api/reservations/" + r.ID + "/deposit"

	rec := ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	none := decode[DepositResponse](t, rec)
	assert.Nil(t, none.Deposit)
	assert.Equal(t, int64(9000), none.BalanceDue)

	rec = ts.do(t, http.MethodPost, base+"/payments", PaymentRequest{Amount: 100, Method: "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, base, RequireDepositRequest{Amount: 2000})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/payments", PaymentRequest{Amount: 500, Method: "card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "card needs a reference")

	rec = ts.do(t, http.MethodPost, base+"/payments", PaymentRequest{Amount: 500, Method: "cash"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(8500), decode[DepositResponse](t, rec).BalanceDue)

	rec = ts.do(t, http.MethodPost, base+"/refund", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "deposit_not_paid", decode[errorResponse](t, rec).Reason)
}

func TestAvailabilityAndConflicts(t *testing.T) {
	ts := newTestServer(t, Options{})
	r := ts.create(t, at(10, 0), 0)

	tests := []struct {
		name      string
		start     time.Time
		available bool
		reason    models.Reason
	}{
		{"free", at(14, 0), true, ""},
		{"after hours", at(17, 30), false, models.ReasonOutsideWorkingHours},
		{"room taken", at(10, 30), false, models.ReasonCapacityReached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/availability", map[string]any{
				"resource_ref": "S1",
				"location_ref": "room-1",
				"interval":     models.Interval{Start: tt.start, End: tt.start.Add(time.Hour)},
			})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var res struct {
				Available bool          `json:"available"`
				Reason    models.Reason `json:"reason"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, tt.available, res.Available)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}

	rec := ts.do(t, http.MethodPost, "/api/conflicts", map[string]any{
		"resource_ref": "S1",
		"interval":     models.Interval{Start: at(10, 30), End: at(11, 30)},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Conflict       bool     `json:"conflict"`
		ReservationIDs []string `json:"reservation_ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Conflict)
	assert.Equal(t, []string{r.ID}, res.ReservationIDs)

	rec = ts.do(t, http.MethodPost, "/api/conflicts", map[string]any{
		"resource_ref":           "S1",
		"interval":               models.Interval{Start: at(10, 30), End: at(11, 30)},
		"exclude_reservation_id": r.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Conflict)

	rec = ts.do(t, http.MethodPost, "/api/availability", map[string]any{
		"interval": models.Interval{Start: at(11, 0), End: at(10, 0)},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShiftRulesAndCalendar(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.create(t, at(10, 0), 0)

	rec := ts.do(t, http.MethodPut, "/api/shift-rules", ShiftRuleRequest{
		ResourceRef:   "S1",
		DayOfWeek:     3,
		IsDayOff:      true,
		EffectiveFrom: "2025-03-16",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[models.WeeklyShiftRule](t, rec)
	assert.NotEmpty(t, saved.ID)
	require.NotNil(t, saved.EffectiveFrom)

	rec = ts.do(t, http.MethodPut, "/api/shift-rules", ShiftRuleRequest{ResourceRef: "S1", DayOfWeek: 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/shift-rules?resource=S1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ShiftRulesResponse](t, rec).Rules, 2)

	tests := []struct {
		weekStart string
		dayOff    bool
	}{
		{"2025-03-12", false},
		{"2025-03-19", true},
	}
	for _, tt := range tests {
		rec := ts.do(t, http.MethodGet, "/api/shift-rules?resource=S1&week_start="+tt.weekStart, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[ShiftRulesResponse](t, rec)
		var wed *models.WeeklyShiftRule
		for i := range resp.Rules {
			if resp.Rules[i].DayOfWeek == 3 {
				wed = &resp.Rules[i]
			}
		}
		require.NotNil(t, wed, tt.weekStart)
		assert.Equal(t, tt.dayOff, wed.IsDayOff, tt.weekStart)
	}

	rec = ts.do(t, http.MethodGet, "/api/calendar?resource=S1&date=2025-03-12", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	day := decode[CalendarResponse](t, rec)
	assert.False(t, day.DayOff)
	require.Len(t, day.Slots, 18)
	assert.True(t, day.Slots[2].Booked)
	assert.True(t, day.Slots[3].Booked)
	assert.Equal(t, []models.Interval{
		{Start: at(9, 0), End: at(10, 0)},
		{Start: at(11, 0), End: at(18, 0)},
	}, normalize(day.FreeRanges))

	rec = ts.do(t, http.MethodGet, "/api/calendar?resource=S1&date=2025-03-19", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[CalendarResponse](t, rec).DayOff)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calendar?resource=S1&date=12.03.2025", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/calendar?date=2025-03-12", nil).Code)
}

func normalize(in []models.Interval) []models.Interval {
	out := make([]models.Interval, len(in))
	for i, iv := range in {
		out[i] = models.Interval{Start: iv.Start.UTC(), End: iv.End.UTC()}
	}
	return out
}

func TestLocationStatus(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodPut, "/api/locations/room-1/status", map[string]any{"out_of_service": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := decode[models.Location](t, rec)
	assert.True(t, loc.OutOfService)
	assert.False(t, loc.Dirty)

	rec = ts.do(t, http.MethodPut, "/api/locations/room-1/status", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/locations/nope/status", map[string]any{"dirty": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.create(t, at(10, 0), 0)
	ts.create(t, at(12, 0), 0)

	rec := ts.do(t, http.MethodGet, "/api/reservations/export?from=2025-03-12&to=2025-03-12", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Reservations")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/reservations/export?from=2025-03-12", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&models.PolicyViolation{Reason: models.ReasonCapacityReached}, http.StatusUnprocessableEntity},
		{&models.ConflictError{ReservationIDs: []string{"a"}}, http.StatusConflict},
		{&scheduler.Rejection{Err: &models.ConflictError{}}, http.StatusConflict},
		{&models.TransitionError{Action: "cancel", From: models.StatusCheckedOut}, http.StatusConflict},
		{models.ErrRoomOccupied, http.StatusConflict},
		{models.ErrConcurrentModification, http.StatusConflict},
		{deposit.ErrAlreadyPaid, http.StatusConflict},
		{fmt.Errorf("get: %w", models.ErrNotFound), http.StatusNotFound},
		{models.InvalidInput("bad"), http.StatusBadRequest},
		{models.ErrReasonRequired, http.StatusBadRequest},
		{&models.TransportError{Op: "commit", Err: errors.New("disk full")}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, statusFor(tt.err))
		})
	}
}
