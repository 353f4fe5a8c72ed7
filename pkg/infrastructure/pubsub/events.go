package pubsub

import (
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// NewCloudEvent creates a standardized CloudEvent v1.0
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// attributes maps the CloudEvent context onto Pub/Sub binary-mode attributes.
func attributes(e cloudevents.Event) map[string]string {
	attrs := map[string]string{
		"ce-id":          e.ID(),
		"ce-specversion": e.SpecVersion(),
		"ce-type":        e.Type(),
		"ce-source":      e.Source(),
	}
	if ct := e.DataContentType(); ct != "" {
		attrs["content-type"] = ct
	}
	if !e.Time().IsZero() {
		attrs["ce-time"] = e.Time().UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	}
	for k, v := range e.Extensions() {
		if s, ok := v.(string); ok {
			attrs["ce-"+k] = s
		}
	}
	return attrs
}
