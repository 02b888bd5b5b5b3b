package notify

import (
	"context"
	"fmt"
	"log/slog"

	"ecatalog/internal/model"
	"ecatalog/internal/observability/metrics"
)

// NotificationStore persists notification rows.
type NotificationStore interface {
	CreateNotification(ctx context.Context, input model.Notification) (model.Notification, error)
}

// Pusher delivers live frames to registered connections.
type Pusher interface {
	SendToUser(message interface{}, userID string) int
}

// Input describes one notification to create. UserID is the recipient; for
// fan-out it is filled per recipient by CreateAndPushMany.
type Input struct {
	Title   string
	Message string
	Type    model.NotificationType
	UserID  string
}

// Dispatcher is the post-commit step of domain write-paths: it persists a
// notification row, then pushes a live frame to the recipient. Persistence
// failures propagate to the caller; live delivery is strictly best-effort
// and never unwinds the domain write that triggered it.
type Dispatcher struct {
	store    NotificationStore
	registry Pusher
}

func New(store NotificationStore, registry Pusher) *Dispatcher {
	return &Dispatcher{store: store, registry: registry}
}

// CreateAndPush persists the notification, then attempts live delivery. The
// row always exists before any push is attempted.
func (d *Dispatcher) CreateAndPush(ctx context.Context, input Input, event Event) (model.Notification, error) {
	notification, err := d.store.CreateNotification(ctx, model.Notification{
		Title:   input.Title,
		Message: input.Message,
		Type:    input.Type,
		UserID:  input.UserID,
	})
	if err != nil {
		return model.Notification{}, fmt.Errorf("persist notification: %w", err)
	}
	d.push(notification, event)
	return notification, nil
}

// CreateAndPushMany fans one event out to several recipients: one row and
// one push attempt per recipient, no shared row. A storage failure stops the
// fan-out and propagates; push failures never do.
func (d *Dispatcher) CreateAndPushMany(ctx context.Context, userIDs []string, input Input, event Event) ([]model.Notification, error) {
	created := make([]model.Notification, 0, len(userIDs))
	for _, userID := range userIDs {
		perRecipient := input
		perRecipient.UserID = userID
		notification, err := d.CreateAndPush(ctx, perRecipient, event)
		if err != nil {
			return created, err
		}
		created = append(created, notification)
	}
	return created, nil
}

// push is the best-effort boundary: whatever goes wrong during live
// delivery is logged and discarded, never surfaced to the HTTP caller.
func (d *Dispatcher) push(notification model.Notification, event Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationPushesTotal.WithLabelValues("failed").Inc()
			slog.Error("live push failed", "user_id", notification.UserID, "panic", r)
		}
	}()

	delivered := d.registry.SendToUser(newEnvelope(notification, event), notification.UserID)
	if delivered == 0 {
		metrics.NotificationPushesTotal.WithLabelValues("offline").Inc()
		return
	}
	metrics.NotificationPushesTotal.WithLabelValues("delivered").Add(float64(delivered))
}
