package backfill

import (
	"time"

	"github.com/fitglue/ingest/pkg/types"
)

// SplitWindows divides [start, end] into consecutive windows no longer than
// maxSpan. Adjacent windows share their boundary instant and the last window
// always ends exactly at end. A non-positive maxSpan yields one window.
func SplitWindows(start, end time.Time, maxSpan time.Duration) []types.Window {
	if !end.After(start) || maxSpan <= 0 {
		return []types.Window{{Start: start, End: end}}
	}

	total := end.Sub(start)
	count := int((total + maxSpan - 1) / maxSpan)
	windows := make([]types.Window, 0, count)
	for cur := start; cur.Before(end); {
		next := cur.Add(maxSpan)
		if next.After(end) {
			next = end
		}
		windows = append(windows, types.Window{Start: cur, End: next})
		cur = next
	}
	return windows
}
