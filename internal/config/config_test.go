package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SPADESK_TEST_API_KEY", "secret-key")
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9000
  api_keys: ["${SPADESK_TEST_API_KEY}", "${SPADESK_TEST_UNSET_KEY}"]
  trusted_proxies: ["10.0.0.1", "172.16.0.0/12"]
database:
  path: `+filepath.Join(dir, "db", "spadesk.db")+`
booking:
  min_advance_minutes: 30
  timezone: Europe/Moscow
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"secret-key"}, cfg.Server.APIKeys)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
	assert.Equal(t, 30*time.Minute, cfg.BookingMinAdvance())
	assert.Equal(t, 60*24*time.Hour, cfg.BookingMaxAdvance())
	assert.Equal(t, 10*time.Minute, cfg.CleanupBuffer())
	assert.Equal(t, 30, cfg.Booking.SlotMinutes)
	assert.Equal(t, DefaultLocationsPath, cfg.Locations.Path)
	assert.Equal(t, 8090, cfg.Monitoring.HealthCheckPort)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout())
	assert.Equal(t, "data/archive", cfg.Reports.ArchivePath)
	assert.Equal(t, 10*time.Second, cfg.CollaboratorTimeout())
	assert.Equal(t, 24*time.Hour, cfg.CollaboratorDedupTTL())
	assert.DirExists(t, filepath.Join(dir, "db"))

	loc, err := cfg.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "server: [")
	_, err = Load(bad)
	assert.Error(t, err)

	tz := writeFile(t, dir, "tz.yaml", "database:\n  path: "+filepath.Join(dir, "x.db")+"\nbooking:\n  timezone: Mars/Olympus\n")
	_, err = Load(tz)
	assert.ErrorContains(t, err, "booking.timezone")
}

const validLocations = `
locations:
  - ref: room-1
    name: Lotus
    capacity: 1
    allowed_services: [massage, facial]
  - ref: suite
    capacity: 2
  - ref: room-2
resources:
  - ref: S1
    schedule:
      start_time: "09:00"
      end_time: "18:00"
    days_off: [7]
  - ref: S2
defaults:
  capacity: 1
  schedule:
    start_time: "10:00"
    end_time: "20:00"
  days_off: [6, 7]
`

func TestLoadLocationsConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "locations.yaml", validLocations)

	cfg, err := LoadLocationsConfig(path)
	require.NoError(t, err)

	locs := cfg.LocationModels()
	require.Len(t, locs, 3)
	assert.Equal(t, "Lotus", locs[0].Name)
	assert.Equal(t, []string{"massage", "facial"}, locs[0].AllowedServices)
	assert.Equal(t, 2, locs[1].Capacity)
	assert.Equal(t, 1, locs[2].Capacity)
	assert.Equal(t, "room-2", locs[2].Name)

	rules := cfg.StandingRules()
	require.Len(t, rules, 14)

	byID := make(map[string]bool)
	for _, r := range rules {
		require.NoError(t, r.Validate())
		byID[r.ID] = r.IsDayOff
	}
	assert.True(t, byID["S1-standing-0"])  // Sunday
	assert.False(t, byID["S1-standing-6"]) // Saturday
	assert.True(t, byID["S2-standing-6"])
	assert.True(t, byID["S2-standing-0"])
	assert.False(t, byID["S2-standing-3"])
}

func TestLocationsConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  LocationsConfig
	}{
		{"no locations", LocationsConfig{}},
		{"missing ref", LocationsConfig{Locations: []LocationConfig{{Name: "x"}}}},
		{"duplicate ref", LocationsConfig{Locations: []LocationConfig{{Ref: "a"}, {Ref: "a"}}}},
		{"negative capacity", LocationsConfig{Locations: []LocationConfig{{Ref: "a", Capacity: -1}}}},
		{"bad schedule", LocationsConfig{
			Locations: []LocationConfig{{Ref: "a"}},
			Resources: []ResourceConfig{{Ref: "S1", Schedule: &ScheduleConfig{StartTime: "18:00", EndTime: "09:00"}}},
		}},
		{"bad clock", LocationsConfig{
			Locations: []LocationConfig{{Ref: "a"}},
			Resources: []ResourceConfig{{Ref: "S1", Schedule: &ScheduleConfig{StartTime: "9am", EndTime: "18:00"}}},
		}},
		{"bad day off", LocationsConfig{
			Locations: []LocationConfig{{Ref: "a"}},
			Defaults:  DefaultsConfig{DaysOff: []int{0}},
		}},
		{"duplicate resource", LocationsConfig{
			Locations: []LocationConfig{{Ref: "a"}},
			Resources: []ResourceConfig{{Ref: "S1"}, {Ref: "S1"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestWatchLocations(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "locations.yaml", validLocations)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	var lastCount atomic.Int32
	err := WatchLocations(ctx, path, 10*time.Millisecond, nil, func(cfg *LocationsConfig) {
		calls.Add(1)
		lastCount.Store(int32(len(cfg.Locations)))
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(3), lastCount.Load())

	updated := "locations:\n  - ref: room-1\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	require.Eventually(t, func() bool { return lastCount.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWatchLocations_InitialError(t *testing.T) {
	err := WatchLocations(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), time.Second, nil, nil)
	assert.Error(t, err)
}
