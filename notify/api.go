// Package notify fans a freshly persisted message out to the recipient:
// an FCM push for the offline channel and a websocket room broadcast for
// the online channel. Delivery is best effort, at most once, and never
// reported back to the sender; the message is durable before any notice
// is produced.
package notify

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/Real-vivek09/collabkart/store"
)

// Notice is the unit handed from the write path to the dispatcher.
type Notice struct {
	Message    *store.Message `json:"message"`
	Recipient  string         `json:"recipient"`
	SenderName string         `json:"senderName,omitempty"`
}

// Producer enqueues notices after a successful save. A failed publish is
// the caller's problem only as far as logging it; the send already
// succeeded.
type Producer interface {
	Publish(ctx context.Context, n *Notice) error
}

// PushNote is one push notification. Data travels in a dedicated payload
// because FCM rejects custom fields placed next to title/body.
type PushNote struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type PushSender interface {
	Send(ctx context.Context, note *PushNote) error
}

// Broadcaster is the live-transport half of the fan-out, implemented by
// `ws.Hub`. Broadcast reports whether the user had at least one open
// session to receive the payload.
type Broadcaster interface {
	Broadcast(uid, event string, payload any) bool
}

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}
