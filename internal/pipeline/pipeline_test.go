package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relai-dev/relai/internal/cache"
	"github.com/relai-dev/relai/internal/config"
	"github.com/relai-dev/relai/internal/history"
	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/testutil"
	"github.com/relai-dev/relai/internal/topic"
)

const testPromptsJSON = `{
	"intents": {
		"greeting": {
			"description": "greeting",
			"keywords": ["hello", "hi"],
			"action": "template_response"
		},
		"small_talk": {
			"description": "chit chat",
			"keywords": ["how are you"],
			"action": "general_llm_call"
		}
	},
	"query_templates": {
		"rag_topic_inference": "PRIMARY indexes={indexes} query={query}",
		"fallback_topic_resolver": "FALLBACK indexes={indexes} query={query}",
		"rag_final_answer": "ANSWER context={context} history={history} query={query}",
		"general_llm": "GENERAL history={history} query={query}"
	},
	"response_templates": {
		"greeting": "Hello! Ask me anything.",
		"clarification": "Which topic do you mean?",
		"generation_failure": "Sorry, something went wrong.",
		"count_response": "The {index} index contains {count} documents."
	}
}`

// fakeCache is an in-memory exact-only cache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	stores  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (f *fakeCache) Lookup(_ context.Context, normalized string, _ []float32) cache.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.entries[normalized]; ok {
		return cache.Outcome{Kind: cache.ExactHit, Response: v}
	}
	return cache.Outcome{Kind: cache.Miss}
}

func (f *fakeCache) Store(_ context.Context, normalized string, _ []float32, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[normalized] = response
	f.stores++
}

// fakeResolver returns a fixed index or error.
type fakeResolver struct {
	index string
	err   error
	calls int
}

func (f *fakeResolver) Resolve(context.Context, string, config.IndexSchema, *config.PromptConfig) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.index, nil
}

// fakeRetriever returns canned documents and counts.
type fakeRetriever struct {
	docs     []string
	err      error
	count    int64
	countErr error
}

func (f *fakeRetriever) Retrieve(context.Context, string, []float32, int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *fakeRetriever) Count(context.Context, string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.count, nil
}

// fakeHistory records turns in memory.
type fakeHistory struct {
	mu    sync.Mutex
	turns map[uuid.UUID][]history.Turn
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{turns: make(map[uuid.UUID][]history.Turn)}
}

func (f *fakeHistory) Append(_ context.Context, conversation uuid.UUID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns[conversation] = append(f.turns[conversation], history.Turn{
		Conversation: conversation,
		Role:         role,
		Content:      content,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (f *fakeHistory) Recent(_ context.Context, conversation uuid.UUID, limit int) ([]history.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := f.turns[conversation]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeHistory) len(conversation uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns[conversation])
}

type testEnv struct {
	pipeline  *Pipeline
	generator *testutil.MockGenerator
	cache     *fakeCache
	resolver  *fakeResolver
	retriever *fakeRetriever
	history   *fakeHistory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	prompts, err := config.ParsePromptConfig([]byte(testPromptsJSON))
	require.NoError(t, err)

	snapshots := config.NewStoreWithSnapshot(&config.Snapshot{
		Prompts: prompts,
		Schema: config.IndexSchema{
			{Name: "profiles", Fields: []string{"name", "bio"}},
		},
		LoadedAt: time.Now(),
	}, log.NewNop())

	env := &testEnv{
		generator: testutil.NewMockGenerator("generated answer"),
		cache:     newFakeCache(),
		resolver:  &fakeResolver{index: "profiles"},
		retriever: &fakeRetriever{docs: []string{"doc one", "doc two"}, count: 42},
		history:   newFakeHistory(),
	}
	env.pipeline = New(
		snapshots,
		env.generator,
		testutil.NewMockEmbedder(8),
		env.cache,
		env.resolver,
		env.retriever,
		env.history,
		Options{RetrievalLimit: 3, HistoryDepth: 6},
		log.NewNop(),
	)
	return env
}

func TestGreetingBypassesEverything(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "Hello there!",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, resp.Source)
	assert.Equal(t, "Hello! Ask me anything.", resp.Text)
	assert.Zero(t, env.generator.CallCount())
	assert.Zero(t, env.resolver.calls)
}

func TestGeneratedAnswerFlow(t *testing.T) {
	env := newTestEnv(t)
	conversation := uuid.New()

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: conversation,
		Text:         "Who is the CTO?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, resp.Source)
	assert.Equal(t, "generated answer", resp.Text)

	// Retrieved context made it into the generation prompt.
	calls := env.generator.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "doc one")

	// Answer cached and both turns persisted.
	assert.Equal(t, 1, env.cache.stores)
	assert.Equal(t, 2, env.history.len(conversation))
}

func TestSecondIdenticalQueryServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	conversation := uuid.New()

	_, err := env.pipeline.Handle(context.Background(), Request{Conversation: conversation, Text: "Who is the CTO?"})
	require.NoError(t, err)
	require.Equal(t, 1, env.generator.CallCount())

	// Differs only in case and spacing; normalizes identically.
	resp, err := env.pipeline.Handle(context.Background(), Request{Conversation: conversation, Text: "  who is   the CTO?"})
	require.NoError(t, err)
	assert.Equal(t, SourceExactCache, resp.Source)
	assert.Equal(t, "generated answer", resp.Text)
	assert.Equal(t, 1, env.generator.CallCount(), "cache hit must not call the generator")

	// Cache hits still extend the conversation history.
	assert.Equal(t, 4, env.history.len(conversation))
}

func TestRetrievalFailureStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.err = errors.New("search backend timeout")

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "Who is the CTO?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, resp.Source)
	assert.Equal(t, "generated answer", resp.Text)

	// The prompt was built with empty context.
	calls := env.generator.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "context= ")
}

func TestGenerationFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.generator.Fail(errors.New("model unavailable"))
	conversation := uuid.New()

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: conversation,
		Text:         "Who is the CTO?",
	})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, "Sorry, something went wrong.", resp.Text)

	// Nothing cached, nothing persisted.
	assert.Zero(t, env.cache.stores)
	assert.Zero(t, env.history.len(conversation))
}

func TestUnresolvedTopicAsksForClarification(t *testing.T) {
	env := newTestEnv(t)
	env.resolver.err = topic.ErrUnresolved
	conversation := uuid.New()

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: conversation,
		Text:         "What about the thing?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceClarification, resp.Source)
	assert.Equal(t, "Which topic do you mean?", resp.Text)
	assert.Zero(t, env.generator.CallCount())
	assert.Equal(t, 2, env.history.len(conversation))
}

func TestCountShortcut(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "How many profiles do we have?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceCount, resp.Source)
	assert.Equal(t, "The profiles index contains 42 documents.", resp.Text)
	assert.Zero(t, env.generator.CallCount())
}

func TestBareGreetingUsesTemplate(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, resp.Source)
	assert.Equal(t, "Hello! Ask me anything.", resp.Text)
	assert.Zero(t, env.resolver.calls)
}

func TestEmbeddedCountWordIsNotACountQuery(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "Which country is Alice based in?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, resp.Source)
	assert.Equal(t, "generated answer", resp.Text)
	assert.Equal(t, 1, env.generator.CallCount(), "question must go through retrieval and generation")
}

func TestCountFailureFallsBackToRetrieval(t *testing.T) {
	env := newTestEnv(t)
	env.retriever.countErr = errors.New("stats unavailable")

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "How many profiles do we have?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, resp.Source)
	assert.Equal(t, 1, env.generator.CallCount())
}

func TestGeneralIntentSkipsRetrieval(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "How are you today?",
	})
	require.NoError(t, err)
	assert.Equal(t, SourceGenerated, resp.Source)
	assert.Zero(t, env.resolver.calls)

	calls := env.generator.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "GENERAL")
}

func TestEmptyQueryRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.pipeline.Handle(context.Background(), Request{
		Conversation: uuid.New(),
		Text:         "   \t  ",
	})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
