package providers

import (
	"time"

	"github.com/fitglue/ingest/pkg/types"
)

const day = 24 * time.Hour

// CooldownPolicy computes when the next history import becomes available.
// Each provider carries its own policy.
type CooldownPolicy interface {
	NextAvailable(state *types.BackfillState) time.Time
}

// FixedCooldown waits a fixed number of days after the last import.
type FixedCooldown struct {
	Days int
}

func (c FixedCooldown) NextAvailable(state *types.BackfillState) time.Time {
	if state == nil || state.LastImport.IsZero() {
		return time.Time{}
	}
	return state.LastImport.Add(time.Duration(c.Days) * day)
}

// VolumeCooldown grows with the number of workouts the last import produced:
// BaseDays plus one day for every started block of WorkoutsPerDay workouts.
type VolumeCooldown struct {
	BaseDays       int
	WorkoutsPerDay int
}

func (c VolumeCooldown) NextAvailable(state *types.BackfillState) time.Time {
	if state == nil || state.LastImport.IsZero() {
		return time.Time{}
	}
	days := c.BaseDays
	if c.WorkoutsPerDay > 0 && state.ProcessedCount > 0 {
		days += (state.ProcessedCount + c.WorkoutsPerDay - 1) / c.WorkoutsPerDay
	}
	return state.LastImport.Add(time.Duration(days) * day)
}
