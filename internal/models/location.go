package models

// Location is a bookable room. Capacity and the service allow-list come from
// configuration; Dirty and OutOfService are runtime flags.
type Location struct {
	Ref             string   `json:"ref"`
	Name            string   `json:"name"`
	Capacity        int      `json:"capacity"`
	AllowedServices []string `json:"allowed_services,omitempty"`
	Dirty           bool     `json:"dirty"`
	OutOfService    bool     `json:"out_of_service"`
}

// EffectiveCapacity treats a non-positive capacity as 1.
func (l *Location) EffectiveCapacity() int {
	if l.Capacity <= 0 {
		return 1
	}
	return l.Capacity
}

// Permits reports whether serviceRef may be performed here. An empty allow-list permits everything.
func (l *Location) Permits(serviceRef string) bool {
	if len(l.AllowedServices) == 0 {
		return true
	}
	for _, s := range l.AllowedServices {
		if s == serviceRef {
			return true
		}
	}
	return false
}

// LocationStatus is a partial update of a location's runtime flags.
type LocationStatus struct {
	Ref          string `json:"ref"`
	Dirty        *bool  `json:"dirty,omitempty"`
	OutOfService *bool  `json:"out_of_service,omitempty"`
}
