package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relai-dev/relai/internal/log"
	"github.com/relai-dev/relai/internal/pipeline"
)

const writeTimeout = 10 * time.Second

// conn serves one accepted WebSocket connection. Messages are read and
// answered one at a time, so responses leave in request order.
type conn struct {
	ws           *websocket.Conn
	conversation uuid.UUID
	pipe         Pipeline
	logger       log.Logger
}

// run drives the read loop until the client disconnects, the context is
// canceled, or a protocol violation occurs. Ping frames are answered by
// gorilla's default ping handler; binary frames are ignored.
func (c *conn) run(ctx context.Context, maxMessageBytes int64) {
	defer func() {
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("closing connection", "error", err)
		}
	}()

	c.ws.SetReadLimit(maxMessageBytes)

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
		_ = c.ws.Close()
	})
	defer stop()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		text, err := parseInbound(data)
		if err != nil {
			// Protocol violation: notify, then drop the connection.
			c.send(outbound{Type: typeError, Message: "malformed message"})
			c.logger.Warn("malformed frame, closing connection", "conversation", c.conversation)
			return
		}

		c.handleChat(ctx, text)

		if ctx.Err() != nil {
			return
		}
	}
}

// handleChat runs one message through the pipeline and writes the single
// response or error envelope.
func (c *conn) handleChat(ctx context.Context, text string) {
	resp, err := c.pipe.Handle(ctx, pipeline.Request{
		Conversation: c.conversation,
		Text:         text,
	})

	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		c.send(outbound{Type: typeError, Message: "empty message"})
	case err != nil:
		// The connection was closed mid-request: discard the result,
		// nobody is listening.
		if ctx.Err() != nil {
			return
		}
		message := resp.Text
		if message == "" {
			message = "failed to process message"
		}
		c.logger.Error("request failed", "conversation", c.conversation, "error", err)
		c.send(outbound{Type: typeError, Message: message})
	default:
		c.send(outbound{Type: typeResponse, Content: resp.Text, Source: string(resp.Source)})
	}
}

func (c *conn) send(msg outbound) {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Debug("setting write deadline", "error", err)
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("writing message", "error", err)
	}
}

// handleReadError distinguishes oversize frames and expected closes from
// real failures. An oversize frame gets an error envelope before the
// close; gorilla has already scheduled the connection for termination.
func (c *conn) handleReadError(err error) {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.send(outbound{Type: typeError, Message: "message too large"})
		c.logger.Warn("oversize frame, closing connection", "conversation", c.conversation)
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		c.logger.Debug("client disconnected", "conversation", c.conversation)
		return
	}
	c.logger.Debug("read failed", "conversation", c.conversation, "error", err)
}
