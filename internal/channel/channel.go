// Package channel connects chat transports to the message bus.
package channel

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/stellarlinkco/remindme/internal/bus"
	"github.com/stellarlinkco/remindme/internal/logging"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// Command is an entry of the command menu a transport may advertise.
type Command struct {
	Name        string
	Description string
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
	logger    *log.Logger
}

// NewBaseChannel builds the shared part of a channel. An empty allowFrom
// admits every sender.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = struct{}{}
	}
	return BaseChannel{
		name:      name,
		bus:       b,
		allowFrom: allowed,
		logger:    logging.Component(nil, name),
	}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
