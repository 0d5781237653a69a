package realtime

import (
	"bytes"
	"encoding/json"
	"time"
)

// Wire event names (stable, match the chat service).
const (
	EventAuthenticate      = "authenticate"
	EventChatMessage       = "chat_message"
	EventChatResponse      = "chat_response"
	EventConnectionSuccess = "connection_success"
	EventConnectionError   = "connection_error"
	EventTyping            = "typing"
	EventError             = "error"
)

// Envelope is the canonical wire wrapper for channel traffic.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the bearer token on the authenticate event.
type AuthPayload struct {
	Token string `json:"token"`
}

// ChatMessage is the outbound chat body.
type ChatMessage struct {
	ID        string         `json:"id,omitempty"`
	Message   string         `json:"message"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context"`
}

// inboundShape is the tagged view of known server payload shapes, probed in
// priority order: the assistant reply field first, then the generic
// content/message/text fields. Fields stay raw so a nested object in any
// slot degrades gracefully instead of failing the whole decode.
type inboundShape struct {
	Response json.RawMessage `json:"response"`
	Content  json.RawMessage `json:"content"`
	Message  json.RawMessage `json:"message"`
	Text     json.RawMessage `json:"text"`
}

// NormalizeInbound reduces a heterogeneous server payload to displayable
// text. The last resort is the raw payload itself, so a non-empty payload
// never normalizes to the empty string.
func NormalizeInbound(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}

	var shape inboundShape
	if err := json.Unmarshal(trimmed, &shape); err == nil {
		for _, field := range []json.RawMessage{shape.Response, shape.Content, shape.Message, shape.Text} {
			if s := fieldString(field); s != "" {
				return s
			}
		}
	}

	var plain string
	if err := json.Unmarshal(trimmed, &plain); err == nil && plain != "" {
		return plain
	}

	return string(trimmed)
}

// fieldString renders one payload slot: JSON strings decode, anything else
// non-null passes through as its JSON text.
func fieldString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}

	return string(trimmed)
}
