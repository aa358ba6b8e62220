package gateway

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrMalformed indicates a frame that is a JSON envelope of an
// unsupported type. Malformed frames are protocol errors.
var ErrMalformed = errors.New("malformed message")

// inbound message types.
const typeChat = "chat"

// outbound message types.
const (
	typeResponse = "response"
	typeError    = "error"
)

// inbound is the JSON envelope clients may wrap messages in.
type inbound struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// outbound is the envelope for everything the gateway sends.
type outbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
}

// parseInbound extracts the chat text from a text frame. Frames are
// either a {"type":"chat","content":...} envelope or raw text; a JSON
// envelope with any other type is rejected.
func parseInbound(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var env inbound
	if err := json.Unmarshal(data, &env); err != nil {
		// Not a valid envelope; treat the frame as literal text.
		return trimmed, nil
	}
	if env.Type != typeChat {
		return "", ErrMalformed
	}
	return env.Content, nil
}
