package types

import "time"

// Workout is the persisted result of a processed queue item.
type Workout struct {
	ID        string // <provider>:<workoutId>
	UserID    string
	Provider  ProviderKind
	WorkoutID string
	FileURI   string

	Sport            string
	StartTime        time.Time
	TotalElapsedTime float64 // seconds
	TotalDistance    float64 // meters

	IngestedAt time.Time
}

// WorkoutDocID builds the document id for a provider workout.
func WorkoutDocID(provider ProviderKind, workoutID string) string {
	return string(provider) + ":" + workoutID
}
