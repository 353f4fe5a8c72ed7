package shared

import "time"

const (
	ProjectID = "fitglue-project" // Can be overridden by env var in main if needed

	TopicWorkoutIngested = "topic-workout-ingested"

	CollectionUsers         = "users"
	FieldFCMTokens          = "fcm_tokens" // users/{uid}.fcm_tokens
	CollectionCredentials   = "credentials" // users/{uid}/credentials
	CollectionWorkouts      = "workouts"    // users/{uid}/workouts
	CollectionBackfillState = "backfill"    // users/{uid}/backfill/{provider}
	CollectionFailedJobs    = "failedJobs"
	CollectionGarminQueue   = "garminQueue"
	CollectionSuuntoQueue   = "suuntoQueue"
	CollectionCorosQueue    = "corosQueue"

	// QueueErrorAllAttemptsFailed is appended to an item when every candidate credential failed.
	QueueErrorAllAttemptsFailed = "All token processing attempts failed"

	// TokenExpiryBuffer is subtracted from the provider's reported expiry.
	TokenExpiryBuffer = 30 * time.Second

	DefaultMaxRetry          = 10
	DefaultDrainBatchSize    = 200
	DefaultDrainConcurrency  = 10
	DefaultStatsSampleSize   = 1000
	DefaultBackfillTimeout   = 5 * time.Minute
	DefaultTokenSweepHorizon = time.Hour
)
