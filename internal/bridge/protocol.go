package bridge

import (
	"encoding/base64"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType discriminates channel messages.
type MessageType string

const (
	TypeInit        MessageType = "init"
	TypeRequest     MessageType = "request"
	TypeResponse    MessageType = "response"
	TypeStreamStart MessageType = "stream-start"
	TypeStreamChunk MessageType = "stream-chunk"
	TypeStreamEnd   MessageType = "stream-end"
)

// Message is one channel frame. Fields beyond Type and ID are populated
// per message type; binary payloads travel base64-encoded.
type Message struct {
	Type MessageType `json:"type"`
	ID   uint64      `json:"id,omitempty"`

	// request
	Method    string            `json:"method,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Streaming bool              `json:"streaming,omitempty"`

	// response / stream-start
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// stream-chunk
	Chunk string `json:"chunk,omitempty"`
}

// EncodeMessage serializes a frame.
func EncodeMessage(m *Message) ([]byte, error) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode %s frame: %w", m.Type, err)
	}
	return data, nil
}

// DecodeMessage parses a frame, requiring a known type discriminator.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("bridge: decode frame: %w", err)
	}
	switch m.Type {
	case TypeInit, TypeRequest, TypeResponse, TypeStreamStart, TypeStreamChunk, TypeStreamEnd:
		return &m, nil
	default:
		return nil, fmt.Errorf("bridge: unknown frame type %q", m.Type)
	}
}

// EncodeBody encodes a binary payload for transport.
func EncodeBody(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(p)
}

// DecodeBody decodes a transported payload.
func DecodeBody(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bridge: decode payload: %w", err)
	}
	return data, nil
}
