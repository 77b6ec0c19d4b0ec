package domain

import "time"

// InboundMessage is one incoming chat message, immutable once constructed.
type InboundMessage struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	MediaType string // audio | image | video | sticker | document; empty for text
	Timestamp time.Time
}

// HasMediaOnly reports whether the message carries an attachment and no text.
func (m InboundMessage) HasMediaOnly() bool {
	return m.MediaType != "" && m.Text == ""
}

// MessageBus delivers inbound messages from the transport to the engine.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
