package types

import "time"

// QueueItem is one unit of ingestion work: fetch and persist one external workout.
type QueueItem struct {
	ID             string
	Provider       ProviderKind
	ExternalUserID string
	WorkoutID      string
	// FileURL is set when the provider notification already carries a download link.
	FileURL string

	Processed   bool
	RetryCount  int
	Errors      []QueueError
	DateCreated time.Time
	ProcessedAt time.Time
}

// QueueError is one diagnostic entry appended on a failed attempt.
type QueueError struct {
	Timestamp time.Time
	Error     string
	Details   []string
}

// QueueQuery selects queue items. Zero values leave a bound unset.
type QueueQuery struct {
	Processed      bool
	MinRetryCount  int       // retry_count >= MinRetryCount
	MaxRetryCount  int       // retry_count < MaxRetryCount
	ProcessedSince time.Time // processed_at >= ProcessedSince
	OldestFirst    bool
	Limit          int
}

// Matches applies the query predicate to a single item.
func (q QueueQuery) Matches(item *QueueItem) bool {
	if item.Processed != q.Processed {
		return false
	}
	if q.MinRetryCount > 0 && item.RetryCount < q.MinRetryCount {
		return false
	}
	if q.MaxRetryCount > 0 && item.RetryCount >= q.MaxRetryCount {
		return false
	}
	if !q.ProcessedSince.IsZero() && item.ProcessedAt.Before(q.ProcessedSince) {
		return false
	}
	return true
}
