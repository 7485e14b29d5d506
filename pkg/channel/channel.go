package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"studychat/internal/constants"
	"studychat/internal/models"
	"studychat/internal/retry"
	"studychat/internal/tracing"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Handler receives live channel notifications. Callbacks are invoked
// sequentially from the channel's single dispatch goroutine, so a
// handler never sees two callbacks at once.
type Handler interface {
	OnConnected()
	OnDisconnected(err error)
	OnMessage(msg *models.Message)
	OnDeleted(messageID string, scope models.DeleteScope)
}

// Options configures a live push channel for one conversation.
type Options struct {
	URL            string
	AuthToken      string
	ConversationID int64
	Kind           models.ConversationKind
	Backoff        retry.BackoffConfig
	Logger         *logrus.Logger
}

// joinFrame is sent after every successful dial. Event delivery starts
// only after the server has accepted the join, and the frame is
// idempotent so re-issuing it on each reconnect is safe.
type joinFrame struct {
	Op             string `json:"op"`
	ConversationID int64  `json:"conversation_id"`
	Kind           string `json:"kind"`
}

// Channel is a persistent subscription to one conversation's event
// stream. It reconnects on its own with exponential backoff; the owner
// only observes connect/disconnect transitions through the handler.
type Channel struct {
	opts    Options
	handler Handler
	backoff *retry.Backoff
	logger  *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New creates a channel. Open must be called before events flow.
func New(opts Options, handler Handler) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	backoffCfg := opts.Backoff
	if backoffCfg.InitialDelay <= 0 {
		backoffCfg = retry.DefaultBackoffConfig()
		backoffCfg.InitialDelay = constants.DefaultReconnectInitialMs * time.Millisecond
		backoffCfg.MaxDelay = constants.DefaultReconnectMaxMs * time.Millisecond
		backoffCfg.MaxAttempts = constants.DefaultReconnectAttempts
	}

	return &Channel{
		opts:    opts,
		handler: handler,
		backoff: retry.NewBackoff(backoffCfg),
		logger:  logger,
	}
}

// Open starts the connect/read loop in the background. It returns an
// error only if the channel is already open; dial failures are retried
// by the loop itself.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("channel is already open")
	}
	if c.opts.ConversationID == 0 {
		return fmt.Errorf("channel requires a resolved conversation id")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.run(runCtx)

	c.logger.WithFields(logrus.Fields{
		"conversation": c.opts.ConversationID,
		"kind":         c.opts.Kind,
	}).Info("Live channel opened")

	return nil
}

// Close tears the channel down unconditionally. Safe to call in any
// connection state and more than once; it returns after the background
// goroutine has exited.
func (c *Channel) Close() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.closeConn(websocket.StatusNormalClosure, "session closed")
	c.wg.Wait()

	c.logger.WithField("conversation", c.opts.ConversationID).Info("Live channel closed")
}

// run dials, joins and reads until the context is cancelled. Each
// connection failure notifies the handler and schedules a reconnect
// with backoff; a session that got as far as a successful join resets
// the backoff schedule.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()

	attempt := 1
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 1
		}

		c.handler.OnDisconnected(err)

		delay := c.backoff.NextDelay(attempt)
		attempt++
		c.logger.WithFields(logrus.Fields{
			"conversation": c.opts.ConversationID,
			"error":        err,
			"backoff":      delay,
		}).Warn("Live channel disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndRead performs one full connection lifecycle: dial, join,
// notify, then read frames until the connection drops. The returned
// flag reports whether the join completed, so the caller can tell a
// dropped session apart from a connection that never came up.
func (c *Channel) connectAndRead(ctx context.Context) (bool, error) {
	connectCtx, span := tracing.StartSpan(ctx, "channel.Connect",
		attribute.Int64("conversation.id", c.opts.ConversationID),
	)

	dialCtx, cancel := context.WithTimeout(connectCtx, constants.DefaultDialTimeoutSec*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: c.dialHeaders(),
	})
	cancel()
	if err != nil {
		err = fmt.Errorf("dialing live channel: %w", err)
		tracing.RecordError(connectCtx, err)
		span.End()
		return false, err
	}

	c.setConn(conn)
	defer c.closeConn(websocket.StatusInternalError, "connection reset")

	if err := c.join(connectCtx, conn); err != nil {
		tracing.RecordError(connectCtx, err)
		span.End()
		return false, err
	}
	span.End()

	c.handler.OnConnected()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("reading frame: %w", err)
		}
		c.dispatch(data)
	}
}

func (c *Channel) join(ctx context.Context, conn *websocket.Conn) error {
	joinCtx, cancel := context.WithTimeout(ctx, constants.DefaultJoinTimeoutSec*time.Second)
	defer cancel()

	frame := joinFrame{
		Op:             "join",
		ConversationID: c.opts.ConversationID,
		Kind:           string(c.opts.Kind),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling join frame: %w", err)
	}
	if err := conn.Write(joinCtx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("sending join frame: %w", err)
	}
	return nil
}

// dispatch decodes one frame and routes it to the handler. Frames that
// do not parse are logged and skipped; a malformed event must never
// take the channel down.
func (c *Channel) dispatch(data []byte) {
	var event models.ChatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.WithField("bytes", len(data)).Debug("Unparseable channel frame, skipping")
		return
	}

	switch event.Type {
	case models.EventTypeMessage:
		if event.Message == nil {
			c.logger.Debug("Message event without payload, skipping")
			return
		}
		msg, err := event.Message.ToMessage()
		if err != nil {
			c.logger.WithError(err).Warn("Skipping malformed pushed message")
			return
		}
		c.handler.OnMessage(msg)

	case models.EventTypeDelete:
		if event.MessageID == "" {
			c.logger.Debug("Delete event without message id, skipping")
			return
		}
		scope := event.Scope
		if scope == "" {
			scope = models.DeleteScopeEveryone
		}
		c.handler.OnDeleted(event.MessageID, scope)

	default:
		c.logger.WithField("type", event.Type).Debug("Unknown channel event type, skipping")
	}
}

func (c *Channel) dialHeaders() http.Header {
	headers := http.Header{}
	if c.opts.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+c.opts.AuthToken)
	}
	return headers
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) closeConn(code websocket.StatusCode, reason string) {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
}
