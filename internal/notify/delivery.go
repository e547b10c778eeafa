package notify

import (
	"context"
	"log/slog"

	"github.com/tolkhub/jobwatch/internal/pkg/pubsub"
	"github.com/tolkhub/jobwatch/internal/pkg/ws"
)

const MessageType = "job_notification"

// HubNotifier 直接推送给本实例上的 websocket 连接
type HubNotifier struct {
	hub *ws.Hub
}

func NewHubNotifier(hub *ws.Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (h *HubNotifier) Notify(_ context.Context, n Notification) error {
	return h.hub.SendToUser(n.UserID, &ws.Message{Type: MessageType, Data: n})
}

// RedisNotifier 发布到 Redis，由每个实例的 Relay 转发给自己的连接
type RedisNotifier struct {
	publisher *pubsub.Publisher
}

func NewRedisNotifier(publisher *pubsub.Publisher) *RedisNotifier {
	return &RedisNotifier{publisher: publisher}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	return r.publisher.Publish(ctx, &n)
}

// Relay forwards published notifications to the local hub until ctx ends.
func Relay(ctx context.Context, sub *pubsub.Subscriber, hub *ws.Hub, ready chan<- struct{}) error {
	return pubsub.Subscribe(ctx, sub, ready, func(n *Notification) {
		if err := hub.SendToUser(n.UserID, &ws.Message{Type: MessageType, Data: n}); err != nil {
			slog.Warn("notify: relay failed", "userId", n.UserID, "jobId", n.JobID, "error", err)
		}
	})
}
