package bus

import "context"

// InboundMessage is one utterance received by a channel adapter.
type InboundMessage struct {
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id"`
	// UserID is the profile id the sender maps to, e.g. "discord:123".
	UserID    string            `json:"user_id"`
	Content   string            `json:"content"`
	RequestID string            `json:"request_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a rendered reply routed back to its channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// MessageHandler answers one inbound message. An empty reply is a silent
// exit and is not sent.
type MessageHandler func(ctx context.Context, msg InboundMessage) (reply string, err error)
