package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudevents/sdk-go/v2/event"
)

// --- Mock Publisher ---
type MockPublisher struct {
	PublishCloudEventFunc func(ctx context.Context, topic string, e event.Event) (string, error)

	mu        sync.Mutex
	Published []PublishedEvent
}

// PublishedEvent records one PublishCloudEvent call.
type PublishedEvent struct {
	Topic string
	Event event.Event
}

func (m *MockPublisher) PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error) {
	m.mu.Lock()
	m.Published = append(m.Published, PublishedEvent{Topic: topic, Event: e})
	m.mu.Unlock()
	if m.PublishCloudEventFunc != nil {
		return m.PublishCloudEventFunc(ctx, topic, e)
	}
	return "msg-id", nil
}

// Events returns a snapshot of the published events.
func (m *MockPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishedEvent(nil), m.Published...)
}

// --- Mock Storage ---
type MockBlobStore struct {
	WriteFunc func(ctx context.Context, bucket, object string, data []byte) error
	ReadFunc  func(ctx context.Context, bucket, object string) ([]byte, error)

	mu      sync.Mutex
	Objects map[string][]byte
}

func (m *MockBlobStore) Write(ctx context.Context, bucket, object string, data []byte) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, bucket, object, data)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Objects == nil {
		m.Objects = map[string][]byte{}
	}
	m.Objects[bucket+"/"+object] = append([]byte(nil), data...)
	return nil
}
func (m *MockBlobStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, bucket, object)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if data, ok := m.Objects[bucket+"/"+object]; ok {
		return data, nil
	}
	return []byte("mock-data"), nil
}

// --- Mock Notifications ---
type MockNotificationService struct {
	SendPushNotificationFunc func(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error

	mu   sync.Mutex
	Sent []string // user ids notified
}

func (m *MockNotificationService) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, userID)
	m.mu.Unlock()
	if m.SendPushNotificationFunc != nil {
		return m.SendPushNotificationFunc(ctx, userID, title, body, tokens, data)
	}
	return nil
}

// StaticVerifier maps accepted ID tokens to user ids.
type StaticVerifier map[string]string

func (v StaticVerifier) VerifyIDToken(ctx context.Context, idToken string) (string, error) {
	if uid, ok := v[idToken]; ok {
		return uid, nil
	}
	return "", errors.New("invalid id token")
}
