// Package hub fans messages out to websocket clients. Each client has a
// bounded queue; a client that falls behind is disconnected rather than
// slowing the others.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType selects the websocket frame a message is sent in
type MessageType int

const (
	JSONMessage   MessageType = iota // Text frame
	BinaryMessage                    // Binary frame
)

func (t MessageType) frame() int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Message is one broadcast payload
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
