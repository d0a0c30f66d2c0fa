package channels

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/mirabase/pkg/bus"
	"github.com/dotsetgreg/mirabase/pkg/logger"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// BaseChannel holds what every adapter shares: the bus, the allowlist and
// the running flag.
type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, mb *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       mb,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

// IsAllowed checks senderID against the allowlist. An empty list allows
// everyone. Entries may be a bare id, a username or "@username"; compound
// senders look like "123456|username".
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart, _ := strings.Cut(senderID, "|")
	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}
	return false
}

// HandleMessage publishes one allowed message to the bus. A platform
// message id becomes the request id, so a redelivered slash command is
// replayed instead of run twice.
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, metadata map[string]string) bool {
	if !c.IsAllowed(senderID) {
		return false
	}
	idPart, _, _ := strings.Cut(senderID, "|")
	userID, err := UserID(c.name, idPart)
	if err != nil {
		logger.WarnCF("channels", "Sender has no usable user id", map[string]interface{}{
			"channel":   c.name,
			"sender_id": senderID,
			"error":     err.Error(),
		})
		return false
	}

	msg := bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		UserID:   userID,
		Content:  content,
		Metadata: metadata,
	}
	if id := metadata["message_id"]; id != "" {
		msg.RequestID = c.name + ":" + id
	}
	return c.bus.PublishInbound(msg)
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
