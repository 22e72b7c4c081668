package scheduler

import "spadesk/internal/models"

// ReconcilePrimary computes the assignment changes that make resourceRef the
// single primary of a reservation.
//
// If resourceRef already holds a primary, every other primary is dropped.
// Otherwise the existing primary is repointed to resourceRef, and when there is
// none a new one is inserted. An empty resourceRef drops all primaries.
// Calling it again with the same resource yields no changes.
func ReconcilePrimary(existing []models.Assignment, reservationID, resourceRef string, newID func() string) (upsert []models.Assignment, remove []string) {
	var primaries []models.Assignment
	for _, a := range existing {
		if a.Role == models.RolePrimary {
			primaries = append(primaries, a)
		}
	}

	if resourceRef == "" {
		for _, p := range primaries {
			remove = append(remove, p.ID)
		}
		return nil, remove
	}

	keep := -1
	for i, p := range primaries {
		if p.ResourceRef == resourceRef {
			keep = i
			break
		}
	}

	switch {
	case keep >= 0:
		for i, p := range primaries {
			if i != keep {
				remove = append(remove, p.ID)
			}
		}
	case len(primaries) > 0:
		repointed := primaries[0]
		repointed.ResourceRef = resourceRef
		upsert = append(upsert, repointed)
		for _, p := range primaries[1:] {
			remove = append(remove, p.ID)
		}
	default:
		upsert = append(upsert, models.Assignment{
			ID:            newID(),
			ReservationID: reservationID,
			ResourceRef:   resourceRef,
			Role:          models.RolePrimary,
		})
	}
	return upsert, remove
}
