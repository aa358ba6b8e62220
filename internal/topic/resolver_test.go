package topic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/testutil"
)

var testSchema = config.IndexSchema{
	{Name: "profiles", Fields: []string{"name", "bio"}},
	{Name: "age", Fields: []string{"name", "age"}},
}

func testPrompts(t *testing.T) *config.PromptConfig {
	t.Helper()
	pc, err := config.ParsePromptConfig([]byte(`{
		"query_templates": {
			"rag_topic_inference": "PRIMARY indexes={indexes} query={query}",
			"fallback_topic_resolver": "FALLBACK indexes={indexes} query={query}",
			"rag_final_answer": "ANSWER",
			"general_llm": "GENERAL"
		}
	}`))
	require.NoError(t, err)
	return pc
}

func TestResolvePrimarySucceeds(t *testing.T) {
	gen := testutil.NewMockGenerator("None")
	gen.AddResponse("PRIMARY", "profiles")
	r := New(gen, log.NewNop())

	index, err := r.Resolve(context.Background(), "who is the CTO?", testSchema, testPrompts(t))
	require.NoError(t, err)
	assert.Equal(t, "profiles", index)
	assert.Equal(t, 1, gen.CallCount())
}

func TestResolveFallbackAfterNone(t *testing.T) {
	// Primary answers None for an age question; the fallback recognizes
	// it belongs to the profiles index.
	gen := testutil.NewMockGenerator("")
	gen.AddResponse("PRIMARY", "None")
	gen.AddResponse("FALLBACK", "profiles")
	r := New(gen, log.NewNop())

	index, err := r.Resolve(context.Background(), "how old is the founder?", testSchema, testPrompts(t))
	require.NoError(t, err)
	assert.Equal(t, "profiles", index)

	// Exactly one call per stage, never a retry of the same prompt.
	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Prompt, "PRIMARY")
	assert.Contains(t, calls[1].Prompt, "FALLBACK")
}

func TestResolveFallbackAfterUnknownIndex(t *testing.T) {
	gen := testutil.NewMockGenerator("")
	gen.AddResponse("PRIMARY", "documents") // not in schema
	gen.AddResponse("FALLBACK", "age")
	r := New(gen, log.NewNop())

	index, err := r.Resolve(context.Background(), "how old is Ada?", testSchema, testPrompts(t))
	require.NoError(t, err)
	assert.Equal(t, "age", index)
}

func TestResolveUnresolved(t *testing.T) {
	gen := testutil.NewMockGenerator("None")
	r := New(gen, log.NewNop())

	_, err := r.Resolve(context.Background(), "what's the weather?", testSchema, testPrompts(t))
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Equal(t, 2, gen.CallCount())
}

func TestResolveGeneratorFailureFallsThrough(t *testing.T) {
	gen := testutil.NewMockGenerator("profiles")
	gen.Fail(assert.AnError)
	r := New(gen, log.NewNop())

	_, err := r.Resolve(context.Background(), "who is the CTO?", testSchema, testPrompts(t))
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`  "Profiles"  `, "profiles"},
		{"'age'", "age"},
		{"`PROFILES`", "profiles"},
		{"None", "none"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanAnswer(tt.in), "input %q", tt.in)
	}
}
