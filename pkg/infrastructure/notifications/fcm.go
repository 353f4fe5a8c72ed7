package notifications

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	shared "github.com/fitglue/ingest/pkg"
)

// TokenStore removes device tokens that can no longer receive messages.
type TokenStore interface {
	RemoveUserFCMTokens(ctx context.Context, userID string, tokens []string) error
}

// FCMAdapter sends backfill notices through Firebase Cloud Messaging.
type FCMAdapter struct {
	client *messaging.Client
	tokens TokenStore
	logger *slog.Logger
}

var _ shared.NotificationService = (*FCMAdapter)(nil)

func NewFCMAdapter(ctx context.Context, app *firebase.App, tokens TokenStore, logger *slog.Logger) (*FCMAdapter, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FCMAdapter{client: client, tokens: tokens, logger: logger.With("component", "fcm")}, nil
}

func (a *FCMAdapter) SendPushNotification(ctx context.Context, userID string, title, body string, tokens []string, data map[string]string) error {
	if len(tokens) == 0 {
		a.logger.Debug("No tokens for user, skipping notification", "user_id", userID)
		return nil
	}

	a.logger.Info("Sending push notification", "user_id", userID, "token_count", len(tokens), "title", title)

	response, err := a.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to send multicast message: %w", err)
	}

	if response.FailureCount > 0 {
		a.logger.Warn("Some push notifications failed to send",
			"user_id", userID,
			"failure_count", response.FailureCount,
			"success_count", response.SuccessCount,
		)
		dead := unregistered(tokens, response.Responses, messaging.IsRegistrationTokenNotRegistered)
		if len(dead) > 0 && a.tokens != nil {
			a.logger.Info("Removing dead FCM tokens", "user_id", userID, "count", len(dead))
			if err := a.tokens.RemoveUserFCMTokens(ctx, userID, dead); err != nil {
				a.logger.Error("Failed to remove dead FCM tokens", "user_id", userID, "error", err)
			}
		}
	}

	return nil
}

// unregistered pairs each response with the token it was sent to.
func unregistered(tokens []string, responses []*messaging.SendResponse, isDead func(error) bool) []string {
	var dead []string
	for i, resp := range responses {
		if i >= len(tokens) {
			break
		}
		if resp != nil && resp.Error != nil && isDead(resp.Error) {
			dead = append(dead, tokens[i])
		}
	}
	return dead
}
