package types

import "time"

// FailedJob is a dead-letter record. It is terminal: nothing re-enqueues it automatically.
type FailedJob struct {
	ID               string
	Provider         ProviderKind
	OriginCollection string
	OriginID         string
	OriginalPayload  map[string]interface{}
	// Context is a short machine-parseable classification, e.g. NO_TOKEN_FOUND.
	Context  string
	Error    string
	FailedAt time.Time
}
