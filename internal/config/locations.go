package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spadesk/internal/models"
)

// LocationConfig is one room of locations.yaml.
type LocationConfig struct {
	Ref             string   `yaml:"ref"`
	Name            string   `yaml:"name"`
	Capacity        int      `yaml:"capacity"`
	AllowedServices []string `yaml:"allowed_services,omitempty"`
}

// ScheduleConfig is a daily working window.
type ScheduleConfig struct {
	StartTime string `yaml:"start_time"` // "09:00"
	EndTime   string `yaml:"end_time"`   // "18:00"
}

// ResourceConfig is the standing weekly shift of one staff member.
type ResourceConfig struct {
	Ref      string          `yaml:"ref"`
	Schedule *ScheduleConfig `yaml:"schedule,omitempty"`
	DaysOff  []int           `yaml:"days_off,omitempty"` // 1=Mon, 7=Sun
}

// DefaultsConfig applies to resources without their own schedule or days off.
type DefaultsConfig struct {
	Capacity int             `yaml:"capacity"`
	Schedule *ScheduleConfig `yaml:"schedule"`
	DaysOff  []int           `yaml:"days_off"`
}

// LocationsConfig is the root of locations.yaml.
type LocationsConfig struct {
	Locations []LocationConfig `yaml:"locations"`
	Resources []ResourceConfig `yaml:"resources"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
}

// LoadLocationsConfig loads and validates locations.yaml.
func LoadLocationsConfig(path string) (*LocationsConfig, error) {
	if path == "" {
		path = DefaultLocationsPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations config: %w", err)
	}

	var cfg LocationsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse locations config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate locations config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *LocationsConfig) Validate() error {
	if len(c.Locations) == 0 {
		return fmt.Errorf("no locations defined")
	}

	refs := make(map[string]bool)
	for i, loc := range c.Locations {
		if loc.Ref == "" {
			return fmt.Errorf("location[%d]: ref is required", i)
		}
		if refs[loc.Ref] {
			return fmt.Errorf("location[%d]: duplicate ref '%s'", i, loc.Ref)
		}
		refs[loc.Ref] = true

		if loc.Capacity < 0 {
			return fmt.Errorf("location[%d]: capacity cannot be negative", i)
		}
	}

	resources := make(map[string]bool)
	for i, res := range c.Resources {
		if res.Ref == "" {
			return fmt.Errorf("resource[%d]: ref is required", i)
		}
		if resources[res.Ref] {
			return fmt.Errorf("resource[%d]: duplicate ref '%s'", i, res.Ref)
		}
		resources[res.Ref] = true

		if res.Schedule != nil {
			if err := validateSchedule(res.Schedule, fmt.Sprintf("resource[%d].schedule", i)); err != nil {
				return err
			}
		}
		if err := validateDaysOff(res.DaysOff, fmt.Sprintf("resource[%d].days_off", i)); err != nil {
			return err
		}
	}

	if c.Defaults.Capacity < 0 {
		return fmt.Errorf("defaults.capacity cannot be negative")
	}
	if c.Defaults.Schedule != nil {
		if err := validateSchedule(c.Defaults.Schedule, "defaults.schedule"); err != nil {
			return err
		}
	}
	return validateDaysOff(c.Defaults.DaysOff, "defaults.days_off")
}

func validateSchedule(s *ScheduleConfig, prefix string) error {
	if s.StartTime == "" {
		return fmt.Errorf("%s.start_time is required", prefix)
	}
	if s.EndTime == "" {
		return fmt.Errorf("%s.end_time is required", prefix)
	}

	startTime, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return fmt.Errorf("%s.start_time: invalid format '%s', expected HH:MM", prefix, s.StartTime)
	}
	endTime, err := time.Parse("15:04", s.EndTime)
	if err != nil {
		return fmt.Errorf("%s.end_time: invalid format '%s', expected HH:MM", prefix, s.EndTime)
	}
	if !endTime.After(startTime) {
		return fmt.Errorf("%s: end_time must be after start_time", prefix)
	}
	return nil
}

func validateDaysOff(days []int, prefix string) error {
	for i, d := range days {
		if d < 1 || d > 7 {
			return fmt.Errorf("%s[%d]: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", prefix, i, d)
		}
	}
	return nil
}

func (c *LocationsConfig) applyDefaults() {
	for i := range c.Locations {
		if c.Locations[i].Capacity == 0 {
			c.Locations[i].Capacity = c.Defaults.Capacity
		}
		if c.Locations[i].Name == "" {
			c.Locations[i].Name = c.Locations[i].Ref
		}
	}
	for i := range c.Resources {
		if c.Resources[i].Schedule == nil && c.Defaults.Schedule != nil {
			c.Resources[i].Schedule = c.Defaults.Schedule
		}
		if c.Resources[i].DaysOff == nil {
			c.Resources[i].DaysOff = c.Defaults.DaysOff
		}
	}
}

// LocationModels converts the configured rooms. Runtime flags are left false.
func (c *LocationsConfig) LocationModels() []models.Location {
	out := make([]models.Location, 0, len(c.Locations))
	for _, l := range c.Locations {
		out = append(out, models.Location{
			Ref:             l.Ref,
			Name:            l.Name,
			Capacity:        l.Capacity,
			AllowedServices: append([]string(nil), l.AllowedServices...),
		})
	}
	return out
}

// StandingRules expands every resource into one standing rule per weekday.
// Resources without a schedule get no rules and are therefore always available.
func (c *LocationsConfig) StandingRules() []models.WeeklyShiftRule {
	var out []models.WeeklyShiftRule
	for _, res := range c.Resources {
		if res.Schedule == nil {
			continue
		}
		off := make(map[int]bool, len(res.DaysOff))
		for _, d := range res.DaysOff {
			off[d%7] = true
		}
		for dow := 0; dow < 7; dow++ {
			rule := models.WeeklyShiftRule{
				ID:          fmt.Sprintf("%s-standing-%d", res.Ref, dow),
				ResourceRef: res.Ref,
				DayOfWeek:   dow,
			}
			if off[dow] {
				rule.IsDayOff = true
			} else {
				rule.StartTime = res.Schedule.StartTime
				rule.EndTime = res.Schedule.EndTime
			}
			out = append(out, rule)
		}
	}
	return out
}
