package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// publishTimeout bounds how long a publisher blocks on a full queue
// before the message is counted as dropped.
const publishTimeout = 100 * time.Millisecond

const queueDepth = 100

// MessageBus decouples transports from the orchestrator: channels and
// the scheduler publish inbound triggers, the orchestrator consumes
// them and publishes finished turns back for outbound dispatch.
// Publishing never blocks callers for more than publishTimeout; overflow
// is dropped and counted rather than stalling a Discord handler or a
// timer callback.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
	}
}

// PublishInbound queues a trigger for the orchestrator. Messages
// published after Close, or while the queue stays full past the publish
// timeout, are dropped.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.inbound <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.inbound <- msg:
		case <-timer.C:
			mb.droppedIn.Add(1)
		}
	}
}

// ConsumeInbound blocks for the next trigger. ok is false once the bus
// is closed or ctx is cancelled.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		if !ok {
			return InboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a finished turn for transport dispatch, with
// the same overflow policy as PublishInbound.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}

	select {
	case mb.outbound <- msg:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case mb.outbound <- msg:
		case <-timer.C:
			mb.droppedOut.Add(1)
		}
	}
}

// SubscribeOutbound blocks for the next finished turn. ok is false once
// the bus is closed or ctx is cancelled.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		if !ok {
			return OutboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.droppedIn.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.droppedOut.Load()
}
