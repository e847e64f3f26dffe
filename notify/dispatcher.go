package notify

import (
	"context"
	"strconv"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Real-vivek09/collabkart/directory"
)

const (
	// Event name the frontend listens on.
	EventNewMessage = "newMessage"

	// Push previews keep at most this many characters of the content.
	previewMaxRunes = 100

	fallbackSenderName = "a user"
)

var deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "collabkart_notify_deliveries_total",
	Help: "Fan-out attempts by channel and result.",
}, []string{"channel", "result"})

func init() {
	prometheus.MustRegister(deliveries)
}

// Dispatcher delivers one notice over both channels. Every failure on
// this path is terminal: logged, counted, swallowed.
type Dispatcher struct {
	dir  directory.Client
	push PushSender
	live Broadcaster
}

func NewDispatcher(dir directory.Client, push PushSender, live Broadcaster) *Dispatcher {
	return &Dispatcher{dir: dir, push: push, live: live}
}

func (d *Dispatcher) Dispatch(ctx context.Context, n *Notice) {
	d.sendPush(ctx, n)
	d.broadcast(n)
}

func (d *Dispatcher) sendPush(ctx context.Context, n *Notice) {
	profile, err := d.dir.FindProfile(ctx, n.Recipient)
	if err != nil {
		glog.V(5).Infof("push: no profile for %s: %v", n.Recipient, err)
		deliveries.WithLabelValues("push", "skipped").Inc()
		return
	}
	if profile.PushToken == "" {
		glog.V(5).Infof("push: %s has no token registered", n.Recipient)
		deliveries.WithLabelValues("push", "skipped").Inc()
		return
	}

	note := &PushNote{
		Token: profile.PushToken,
		Title: "New message from " + d.senderName(ctx, n),
		Body:  preview(n.Message.Content),
		Data: map[string]string{
			"messageId": strconv.FormatInt(n.Message.ID, 10),
			"senderUid": n.Message.Sender,
			"type":      EventNewMessage,
		},
	}

	if err := d.push.Send(ctx, note); err != nil {
		glog.Errorf("push: send to %s failed: %v", n.Recipient, err)
		deliveries.WithLabelValues("push", "error").Inc()
		return
	}
	deliveries.WithLabelValues("push", "ok").Inc()
}

func (d *Dispatcher) broadcast(n *Notice) {
	if d.live.Broadcast(n.Recipient, EventNewMessage, n.Message) {
		deliveries.WithLabelValues("live", "ok").Inc()
	} else {
		deliveries.WithLabelValues("live", "skipped").Inc()
	}
}

// senderName prefers the name the identity provider attached to the
// request, then the directory record, then a generic label.
func (d *Dispatcher) senderName(ctx context.Context, n *Notice) string {
	if n.SenderName != "" {
		return n.SenderName
	}
	if p, err := d.dir.FindProfile(ctx, n.Message.Sender); err == nil && p.Name != "" {
		return p.Name
	}
	return fallbackSenderName
}

// preview truncates content to 97 characters plus an ellipsis when it
// exceeds 100. Counted in runes: slicing bytes could cut a rune in half.
func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewMaxRunes {
		return content
	}
	return string(r[:previewMaxRunes-3]) + "..."
}
