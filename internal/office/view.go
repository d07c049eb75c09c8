package office

import (
	"time"

	"fleet-dashboard/internal/models"
)

// Effective applies the read-time staleness rule: a working row older than staleAfter
// is shown as idle. Nothing is written back.
func Effective(st models.OfficeStation, now time.Time, staleAfter time.Duration) models.OfficeStation {
	if st.Status == models.StationWorking && staleAfter > 0 && now.Sub(st.UpdatedAt) > staleAfter {
		st.Status = models.StationIdle
	}
	return st
}

// EffectiveAll applies Effective to a copy of every row.
func EffectiveAll(stations []models.OfficeStation, now time.Time, staleAfter time.Duration) []models.OfficeStation {
	out := make([]models.OfficeStation, len(stations))
	for i, st := range stations {
		out[i] = Effective(st, now, staleAfter)
	}
	return out
}
