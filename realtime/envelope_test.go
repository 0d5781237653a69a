package realtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medichecks/go-session/realtime"
)

func TestNormalizeInbound(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected string
	}{
		{"response field", `{"response":"hola"}`, "hola"},
		{"content field", `{"content":"hola"}`, "hola"},
		{"message field", `{"message":"hola"}`, "hola"},
		{"text field", `{"text":"hola"}`, "hola"},
		{
			name:     "response outranks the generic fields",
			payload:  `{"message":"m","content":"c","response":"r"}`,
			expected: "r",
		},
		{
			name:     "content outranks message",
			payload:  `{"message":"m","content":"c"}`,
			expected: "c",
		},
		{"bare string", `"hola"`, "hola"},
		{"plain text passes through", `not json at all`, "not json at all"},
		{"unknown object passes through", `{"foo":1}`, `{"foo":1}`},
		{"nested response object passes through", `{"response":{"k":"v"}}`, `{"k":"v"}`},
		{"null fields fall through", `{"response":null,"message":"m"}`, "m"},
		{"empty payload", ``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, realtime.NormalizeInbound([]byte(tt.payload)))
		})
	}
}

func TestNormalizeInboundNeverEmptyForNonEmptyPayload(t *testing.T) {
	payloads := []string{
		`{}`,
		`[]`,
		`0`,
		`{"response":""}`,
		`random garbage`,
	}

	for _, payload := range payloads {
		assert.NotEmpty(t, realtime.NormalizeInbound([]byte(payload)), "payload %q", payload)
	}
}
