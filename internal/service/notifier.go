package service

import (
	"context"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/shulepay/shulepay/internal/domain"
)

// FCMNotifier delivers push notifications through Firebase Cloud Messaging.
// Each owner subscribes to their own topic from the mobile app, so the
// service never stores device tokens.
type FCMNotifier struct {
	client *messaging.Client
}

// LogNotifier writes notifications to the log. Used when no Firebase
// credentials are configured.
type LogNotifier struct{}

// NewNotifier returns an FCM-backed notifier when a credentials file is
// configured, otherwise a log-only fallback.
func NewNotifier(ctx context.Context, credentialsFile string) domain.Notifier {
	if credentialsFile == "" {
		log.Println("[Notify] Using log notifier (no Firebase credentials configured)")
		return &LogNotifier{}
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		log.Printf("[Notify] Firebase init failed, falling back to log notifier: %v", err)
		return &LogNotifier{}
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.Printf("[Notify] FCM client init failed, falling back to log notifier: %v", err)
		return &LogNotifier{}
	}

	log.Println("[Notify] Using FCM notifier")
	return &FCMNotifier{client: client}
}

// Notify sends a push message to the owner's topic. Failures are logged and
// swallowed so a flaky push service never fails a payment operation.
func (n *FCMNotifier) Notify(ctx context.Context, ownerID, title, body, kind string) {
	msg := &messaging.Message{
		Topic: "owner-" + ownerID,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"kind": kind,
		},
	}
	if _, err := n.client.Send(ctx, msg); err != nil {
		log.Printf("[Notify] FCM send failed for owner %s (%s): %v", ownerID, kind, err)
	}
}

// Notify logs the notification instead of delivering it.
func (n *LogNotifier) Notify(_ context.Context, ownerID, title, body, kind string) {
	log.Printf("[Notify] owner=%s kind=%s title=%q body=%q", ownerID, kind, title, body)
}
