package notify

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// MemoryQueue is the standalone notice queue: a buffered channel drained
// by an in-process run loop. A full buffer drops the notice, the message
// itself is already durable.
type MemoryQueue struct {
	dispatcher *Dispatcher
	ch         chan *Notice
}

func NewMemoryQueue(dispatcher *Dispatcher, size int) *MemoryQueue {
	return &MemoryQueue{
		dispatcher: dispatcher,
		ch:         make(chan *Notice, size),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, n *Notice) error {
	select {
	case q.ch <- n:
		return nil
	default:
		return fmt.Errorf("notice queue full, dropped notice for %s", n.Recipient)
	}
}

func (q *MemoryQueue) Run(ctx context.Context, stopDoneC chan<- struct{}) {
	glog.Info("memory queue: ready")
	defer func() {
		glog.Info("memory queue: stopped")
		stopDoneC <- struct{}{}
	}()

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before stopping.
			for {
				select {
				case n := <-q.ch:
					q.dispatcher.Dispatch(context.Background(), n)
				default:
					return
				}
			}
		case n := <-q.ch:
			q.dispatcher.Dispatch(ctx, n)
		}
	}
}
