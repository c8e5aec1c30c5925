package bus

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// MessageBus decouples channels from the gateway. Channels push inbound
// messages, the gateway pushes outbound replies, and DispatchOutbound routes
// each reply to the subscriber registered for its channel.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu   sync.RWMutex
	subs map[string][]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, bufSize),
		Outbound: make(chan OutboundMessage, bufSize),
		subs:     make(map[string][]func(OutboundMessage)),
	}
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// PublishInbound blocks until the message is queued or ctx is done.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound blocks until the message is queued or ctx is done.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchOutbound delivers outbound messages in order until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.dispatch(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *MessageBus) dispatch(msg OutboundMessage) {
	b.mu.RLock()
	subs := b.subs[msg.Channel]
	b.mu.RUnlock()

	if len(subs) == 0 {
		log.Default().WithPrefix("bus").Warn("no subscriber for outbound message", "channel", msg.Channel, "chat", msg.ChatID)
		return
	}
	for _, fn := range subs {
		fn(msg)
	}
}
