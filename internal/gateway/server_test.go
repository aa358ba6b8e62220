package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/pipeline"
)

// TestMain enables goroutine leak detection for all tests in the package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// echoPipe answers every request with an echo of its text.
type echoPipe struct{}

func (echoPipe) Handle(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	return pipeline.Response{Text: "echo: " + req.Text, Source: pipeline.SourceGenerated}, nil
}

func startGateway(t *testing.T, secret string) (*httptest.Server, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	s := NewServer(
		NewAuthenticator(secret, 5*time.Minute),
		echoPipe{},
		Options{MaxMessageBytes: 1 << 20, AcceptPerSecond: 100, AcceptBurst: 100},
		log.NewNop(),
	)
	srv := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Close()
		s.wg.Wait()
	})
	return srv, cancel
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, rawURL string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) outbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env outbound
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestConnectWithoutAuthWhenDisabled(t *testing.T) {
	srv, _ := startGateway(t, "")
	ws := dial(t, wsURL(srv, ""))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ping question")))
	env := readEnvelope(t, ws)
	assert.Equal(t, "response", env.Type)
	assert.Equal(t, "echo: ping question", env.Content)
}

func TestAuthenticatedHandshake(t *testing.T) {
	srv, _ := startGateway(t, testSecret)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	ws := dial(t, wsURL(srv, "ts="+ts+"&sig="+sign(testSecret, ts)))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat","content":"hi"}`)))
	env := readEnvelope(t, ws)
	assert.Equal(t, "response", env.Type)
	assert.Equal(t, "echo: hi", env.Content)
}

func TestHandshakeRejectedWithoutSignature(t *testing.T) {
	srv, _ := startGateway(t, testSecret)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectedWithStaleTimestamp(t *testing.T) {
	srv, _ := startGateway(t, testSecret)

	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "ts="+ts+"&sig="+sign(testSecret, ts)), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestResponsesArriveInOrder(t *testing.T) {
	srv, _ := startGateway(t, "")
	ws := dial(t, wsURL(srv, ""))

	for i := range 5 {
		msg := "message " + strconv.Itoa(i)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	for i := range 5 {
		env := readEnvelope(t, ws)
		assert.Equal(t, "echo: message "+strconv.Itoa(i), env.Content)
	}
}

func TestMalformedEnvelopeClosesConnection(t *testing.T) {
	srv, _ := startGateway(t, "")
	ws := dial(t, wsURL(srv, ""))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","content":"x"}`)))

	env := readEnvelope(t, ws)
	assert.Equal(t, "error", env.Type)

	// The server closed the connection after notifying.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
}

func TestAcceptRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewServer(
		NewAuthenticator("", 0),
		echoPipe{},
		Options{MaxMessageBytes: 1 << 20, AcceptPerSecond: 1, AcceptBurst: 1},
		log.NewNop(),
	)
	srv := httptest.NewServer(s.Handler(ctx))
	defer srv.Close()

	ws := dial(t, wsURL(srv, ""))
	_ = ws

	// Burst is exhausted; the next handshake is turned away.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	cancel()
	s.wg.Wait()
}
