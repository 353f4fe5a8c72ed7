package types

// PubSubMessage is the payload of a Pub/Sub event via Cloud Event.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
}

// DrainRequest is the scheduler payload for the queue-processor and token sweep functions.
// An empty Provider means every provider. ItemID processes a single queue item
// of Provider instead of draining a batch.
type DrainRequest struct {
	Provider string `json:"provider,omitempty"`
	ItemID   string `json:"itemId,omitempty"`
}
