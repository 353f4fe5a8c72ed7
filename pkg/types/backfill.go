package types

import "time"

// BackfillState tracks the last history import for one user/provider.
type BackfillState struct {
	UserID         string
	Provider       ProviderKind
	LastImport     time.Time
	ProcessedCount int
}

// Window is a sub-range of a backfill request, inclusive of both bounds.
type Window struct {
	Start time.Time
	End   time.Time
}

// Span returns the length of the window.
func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}
