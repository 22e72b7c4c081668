package models

import (
	"slices"
	"time"
)

// Status is the lifecycle status of a reservation.
type Status string

const (
	StatusBooked     Status = "booked"
	StatusCheckedIn  Status = "checked_in"
	StatusInService  Status = "in_service"
	StatusCompleted  Status = "completed"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusBooked, StatusCheckedIn, StatusInService, StatusCompleted,
		StatusCheckedOut, StatusCancelled, StatusNoShow:
		return Status(s), true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCheckedOut || s == StatusCancelled || s == StatusNoShow
}

// ReleasesSlot reports whether a reservation in this status no longer claims its interval.
func (s Status) ReleasesSlot() bool {
	return s == StatusCancelled || s == StatusNoShow
}

// OnSiteStatuses are the statuses in which the guest physically occupies the location.
var OnSiteStatuses = []Status{StatusCheckedIn, StatusInService}

// IsOnSite reports whether the guest physically occupies the location.
func (s Status) IsOnSite() bool {
	return slices.Contains(OnSiteStatuses, s)
}

// ServiceLine is one booked service on a reservation.
type ServiceLine struct {
	ServiceRef      string `json:"service_ref"`
	DurationMinutes int    `json:"duration_minutes"`
	UnitPrice       int64  `json:"unit_price"` // minor units
	Quantity        int    `json:"quantity"`
}

// TotalDuration returns the sum of DurationMinutes*Quantity across lines.
func TotalDuration(lines []ServiceLine) time.Duration {
	var minutes int
	for _, l := range lines {
		minutes += l.DurationMinutes * l.Quantity
	}
	return time.Duration(minutes) * time.Minute
}

// TotalPrice returns the sum of UnitPrice*Quantity across lines.
func TotalPrice(lines []ServiceLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.UnitPrice * int64(l.Quantity)
	}
	return total
}

// ServiceRefs lists the service refs of the lines in order.
func ServiceRefs(lines []ServiceLine) []string {
	refs := make([]string, 0, len(lines))
	for _, l := range lines {
		refs = append(refs, l.ServiceRef)
	}
	return refs
}

// Reservation is a guest booking owned by the engine.
// Guest, staff and room are referenced by id only; empty ResourceRef or
// LocationRef means unassigned.
type Reservation struct {
	ID                    string        `json:"id"`
	GuestRef              string        `json:"guest_ref"`
	ResourceRef           string        `json:"resource_ref,omitempty"`
	LocationRef           string        `json:"location_ref,omitempty"`
	Interval              Interval      `json:"interval"`
	Services              []ServiceLine `json:"services"`
	Status                Status        `json:"status"`
	DepositRequired       bool          `json:"deposit_required"`
	DepositAmount         int64         `json:"deposit_amount"`
	DepositPaid           bool          `json:"deposit_paid"`
	DepositRefunded       bool          `json:"deposit_refunded"`
	IsFirstVisitForGuest  bool          `json:"is_first_visit_for_guest"`
	CancellationReasonRef string        `json:"cancellation_reason_ref,omitempty"`
	CheckedInAt           *time.Time    `json:"checked_in_at,omitempty"`
	ServiceStartedAt      *time.Time    `json:"service_started_at,omitempty"`
	CompletedAt           *time.Time    `json:"completed_at,omitempty"`
	CheckedOutAt          *time.Time    `json:"checked_out_at,omitempty"`
	CancelledAt           *time.Time    `json:"cancelled_at,omitempty"`
	NoShowAt              *time.Time    `json:"no_show_at,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers can derive a new value without aliasing.
func (r Reservation) Clone() Reservation {
	out := r
	if r.Services != nil {
		out.Services = append([]ServiceLine(nil), r.Services...)
	}
	out.CheckedInAt = cloneTime(r.CheckedInAt)
	out.ServiceStartedAt = cloneTime(r.ServiceStartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.CheckedOutAt = cloneTime(r.CheckedOutAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	out.NoShowAt = cloneTime(r.NoShowAt)
	return out
}

// Duration is the length of the reservation's interval.
func (r *Reservation) Duration() time.Duration {
	return r.Interval.Duration()
}

// TotalPrice is the price of all service lines.
func (r *Reservation) TotalPrice() int64 {
	return TotalPrice(r.Services)
}

// DepositGateClosed reports whether a paid, unrefunded deposit blocks cancellation.
func (r *Reservation) DepositGateClosed() bool {
	return r.DepositRequired && r.DepositPaid && !r.DepositRefunded
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AssignmentRole distinguishes the staff roles on a reservation.
type AssignmentRole string

const (
	RolePrimary   AssignmentRole = "primary"
	RoleAssistant AssignmentRole = "assistant"
)

// Assignment links a staff resource to a reservation under a role.
type Assignment struct {
	ID            string         `json:"id"`
	ReservationID string         `json:"reservation_id"`
	ResourceRef   string         `json:"resource_ref"`
	Role          AssignmentRole `json:"role"`
}

// BlockKind classifies non-bookable blocks.
type BlockKind string

// BlockCleanup is the buffer inserted after a check-out.
const BlockCleanup BlockKind = "cleanup"

// Block is non-bookable time on a resource and/or location.
type Block struct {
	ID                  string    `json:"id"`
	ResourceRef         string    `json:"resource_ref,omitempty"`
	LocationRef         string    `json:"location_ref,omitempty"`
	Interval            Interval  `json:"interval"`
	Kind                BlockKind `json:"kind"`
	SourceReservationID string    `json:"source_reservation_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// ReservationFilter narrows reservation listings. Zero fields do not filter.
type ReservationFilter struct {
	ResourceRef string
	LocationRef string
	GuestRef    string
	Status      Status
	// Statuses keeps only reservations in one of these statuses.
	Statuses []Status
	Range    *Interval
	// ActiveOnly drops reservations whose status releases the slot.
	ActiveOnly bool
}

// Matches reports whether r satisfies the filter.
func (f ReservationFilter) Matches(r *Reservation) bool {
	if f.ResourceRef != "" && r.ResourceRef != f.ResourceRef {
		return false
	}
	if f.LocationRef != "" && r.LocationRef != f.LocationRef {
		return false
	}
	if f.GuestRef != "" && r.GuestRef != f.GuestRef {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.ActiveOnly && r.Status.ReleasesSlot() {
		return false
	}
	if f.Range != nil && !r.Interval.Overlaps(*f.Range) {
		return false
	}
	return true
}

// BlockFilter narrows block listings.
type BlockFilter struct {
	ResourceRef string
	LocationRef string
	Range       *Interval
}

// Matches reports whether b satisfies the filter. Resource and location are
// OR-ed when both are set, so one query returns everything touching either.
func (f BlockFilter) Matches(b *Block) bool {
	if f.ResourceRef != "" || f.LocationRef != "" {
		hit := (f.ResourceRef != "" && b.ResourceRef == f.ResourceRef) ||
			(f.LocationRef != "" && b.LocationRef == f.LocationRef)
		if !hit {
			return false
		}
	}
	if f.Range != nil && !b.Interval.Overlaps(*f.Range) {
		return false
	}
	return true
}
