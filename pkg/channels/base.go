package channels

import (
	"context"

	"niabot/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel holds what every channel shares: its bus handle and the
// single owner it is allowed to talk to.
type BaseChannel struct {
	bus     *bus.MessageBus
	name    string
	ownerID string
	running bool
}

func NewBaseChannel(name, ownerID string, bus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{
		bus:     bus,
		name:    name,
		ownerID: ownerID,
		running: false,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

// IsAllowed accepts only the configured owner. An unset owner id locks the
// channel down entirely rather than opening it up.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	return c.ownerID != "" && senderID == c.ownerID
}

func (c *BaseChannel) HandleMessage(senderID, chatID, content, attachmentURL string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:       c.name,
		SenderID:      senderID,
		ChatID:        chatID,
		Content:       content,
		AttachmentURL: attachmentURL,
		Metadata:      metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
