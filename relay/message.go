// Package relay implements the transport relay: a passthrough broadcast
// server with one logical channel per document-session identifier. The
// relay forwards opaque replication payloads between session subscribers,
// retains content updates for late joiners, and periodically discards
// sessions with no subscribers. It never decodes payloads; only the
// envelope around them.
package relay

import (
	"encoding/json"

	"pdfcollab/common"
)

// MessageType identifies the kind of envelope on the wire.
type MessageType string

const (
	// MessageTypeUpdate carries one opaque replication payload.
	MessageTypeUpdate MessageType = "update"
	// MessageTypeSnapshot carries the retained payloads sent to a joiner.
	MessageTypeSnapshot MessageType = "snapshot"
	// MessageTypeError reports a protocol error back to one client.
	MessageTypeError MessageType = "error"
)

// Channel classifies an update for retention purposes. The relay retains
// content updates so late joiners converge to present state; presence
// updates are forwarded but never retained.
type Channel string

const (
	// ChannelContent is for durable document edits.
	ChannelContent Channel = "content"
	// ChannelPresence is for ephemeral cursor traffic.
	ChannelPresence Channel = "presence"
)

// Message is the websocket envelope exchanged with the relay. Payload and
// Updates entries are opaque bytes produced by the replicas' own patch
// encoding; JSON transports them as base64 strings.
type Message struct {
	Type    MessageType `json:"type"`
	Channel Channel     `json:"channel,omitempty"`
	Payload []byte      `json:"payload,omitempty"`
	Updates [][]byte    `json:"updates,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DecodeMessage parses an envelope and validates the fields the relay
// depends on. The payload itself stays opaque.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case MessageTypeUpdate:
		if msg.Channel != ChannelContent && msg.Channel != ChannelPresence {
			return nil, common.ErrInvalidOperation{Message: "update with unknown channel"}
		}
		if len(msg.Payload) == 0 {
			return nil, common.ErrInvalidOperation{Message: "update with empty payload"}
		}
	case MessageTypeSnapshot, MessageTypeError:
		// Server-originated types; accepted as-is.
	default:
		return nil, common.ErrInvalidOperation{Message: "unknown message type"}
	}
	return &msg, nil
}

// Encode serializes the envelope.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
