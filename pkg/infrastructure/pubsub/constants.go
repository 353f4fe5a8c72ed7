package pubsub

// CloudEvent types and sources emitted by the ingest functions.
const (
	EventTypeWorkoutIngested = "com.fitglue.workout.ingested"
	SourceQueueProcessor     = "/ingest/queue-processor"
)
