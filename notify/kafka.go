package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"
)

const (
	kafkaReadTimeout  = 10 * time.Second
	kafkaWriteTimeout = 10 * time.Second
	publishTimeout    = 3 * time.Second

	// Refuse obviously broken payloads; content itself is bounded by
	// the API layer.
	noticeMaxBytes = 8192

	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

// KafkaQueue carries notices through a kafka topic so the dispatch work
// happens off the request path and survives process restarts. Messages
// are keyed by recipient, which keeps per-user delivery order.
type KafkaQueue struct {
	dispatcher *Dispatcher
	writer     IKafkaWriter
	reader     IKafkaReader
}

func NewKafkaQueue(dispatcher *Dispatcher, brokers []string, topic, groupID string) *KafkaQueue {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Topic:    topic,
		Balancer: &kafka.Hash{},
		Dialer: &kafka.Dialer{
			Timeout:   kafkaWriteTimeout,
			DualStack: true,
		},
	})
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topic,
		Dialer: &kafka.Dialer{
			Timeout:   kafkaReadTimeout,
			DualStack: true,
		},
	})
	return &KafkaQueue{dispatcher: dispatcher, writer: writer, reader: reader}
}

func (q *KafkaQueue) Publish(ctx context.Context, n *Notice) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("error marshal notice: %v", err)
	}
	if len(value) > noticeMaxBytes {
		return fmt.Errorf("notice exceeds max limit: %d bytes", noticeMaxBytes)
	}

	km := kafka.Message{
		Key:   []byte(n.Recipient),
		Value: value,
	}

	ctx2, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := q.writer.WriteMessages(ctx2, km); err != nil {
		return fmt.Errorf("error write to kafka: %v", err)
	}
	return nil
}

// Run consumes notices until ctx is cancelled. Fetch and commit errors
// back off and retry; dispatch itself never fails, so a notice is
// committed after exactly one dispatch attempt.
func (q *KafkaQueue) Run(ctx context.Context, stopDoneC chan<- struct{}) {
	glog.Info("kafka queue: consume loop enter")
	defer func() {
		_ = q.reader.Close() // slow: takes several seconds
		glog.Info("kafka queue: consume loop exited")
		stopDoneC <- struct{}{}
	}()

	var sleep time.Duration

	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			glog.Errorf("kafka queue: fetch err: %v", err)
			if err == context.Canceled {
				return
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return
			}
		}
		sleep = 0

		if n := decodeNotice(&msg); n != nil {
			q.dispatcher.Dispatch(ctx, n)
		}

		for {
			if err := q.reader.CommitMessages(ctx, msg); err == nil {
				sleep = 0
				break
			} else {
				// An uncommitted notice is refetched after restart; a
				// duplicate best-effort push is acceptable there.
				glog.Errorf("kafka queue: commit err: %v", err)
				if err == context.Canceled {
					return
				}
				backoff(&sleep)
				select {
				case <-time.After(sleep):
					continue
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

func decodeNotice(msg *kafka.Message) *Notice {
	if len(msg.Value) > noticeMaxBytes {
		glog.Errorf("kafka queue: value out of limit, offset: %d", msg.Offset)
		return nil
	}
	var n Notice
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		glog.Errorf("kafka queue: failed to unmarshal value `%s`: %v", msg.Value, err)
		return nil
	}
	if n.Message == nil || n.Recipient == "" {
		glog.Errorf("kafka queue: incomplete notice, offset: %d", msg.Offset)
		return nil
	}
	return &n
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
		return
	}
	*d = time.Duration(float64(*d) * BackoffMultiplier).Truncate(time.Millisecond)
	if *d > BackoffMaxInterval {
		*d = BackoffMaxInterval
	}
}
