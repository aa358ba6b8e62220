package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundPlainText(t *testing.T) {
	text, err := parseInbound([]byte("  who is the CTO?  "))
	require.NoError(t, err)
	assert.Equal(t, "who is the CTO?", text)
}

func TestParseInboundChatEnvelope(t *testing.T) {
	text, err := parseInbound([]byte(`{"type":"chat","content":"who is the CTO?"}`))
	require.NoError(t, err)
	assert.Equal(t, "who is the CTO?", text)
}

func TestParseInboundUnknownEnvelopeType(t *testing.T) {
	_, err := parseInbound([]byte(`{"type":"subscribe","content":"x"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseInboundInvalidJSONTreatedAsText(t *testing.T) {
	text, err := parseInbound([]byte(`{not json`))
	require.NoError(t, err)
	assert.Equal(t, "{not json", text)
}
