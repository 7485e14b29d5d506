package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"studychat/internal/models"
	"studychat/internal/retry"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deleteEvent struct {
	messageID string
	scope     models.DeleteScope
}

type recordingHandler struct {
	connected    chan struct{}
	disconnected chan error
	messages     chan *models.Message
	deletes      chan deleteEvent
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		connected:    make(chan struct{}, 8),
		disconnected: make(chan error, 8),
		messages:     make(chan *models.Message, 8),
		deletes:      make(chan deleteEvent, 8),
	}
}

func (h *recordingHandler) OnConnected()                { h.connected <- struct{}{} }
func (h *recordingHandler) OnDisconnected(err error)    { h.disconnected <- err }
func (h *recordingHandler) OnMessage(m *models.Message) { h.messages <- m }
func (h *recordingHandler) OnDeleted(id string, scope models.DeleteScope) {
	h.deletes <- deleteEvent{messageID: id, scope: scope}
}

func testBackoff() retry.BackoffConfig {
	return retry.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  0,
	}
}

func readJoin(t *testing.T, ctx context.Context, conn *websocket.Conn) joinFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame joinFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func waitSignal[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestChannelJoinsAndDeliversEvents(t *testing.T) {
	var gotAuth atomic.Value
	frames := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		join := readJoin(t, ctx, conn)
		assert.Equal(t, "join", join.Op)
		assert.Equal(t, int64(7), join.ConversationID)
		assert.Equal(t, "direct", join.Kind)

		for frame := range frames {
			require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
		}
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	ch := New(Options{
		URL:            srv.URL,
		AuthToken:      "channel-token",
		ConversationID: 7,
		Kind:           models.ConversationDirect,
		Backoff:        testBackoff(),
		Logger:         quietLogger(),
	}, handler)

	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	waitSignal(t, handler.connected, "connect")
	assert.Equal(t, "Bearer channel-token", gotAuth.Load())

	frames <- `{"type":"message","message":{"id":"m1","conversation_id":7,"sender_id":"bob","content":"hello","sent_at":"2026-03-10T12:00:00"}}`
	msg := waitSignal(t, handler.messages, "pushed message")
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), msg.SentAt)

	frames <- `{"type":"delete","message_id":"m1","scope":"me"}`
	del := waitSignal(t, handler.deletes, "delete event")
	assert.Equal(t, "m1", del.messageID)
	assert.Equal(t, models.DeleteScopeMe, del.scope)

	// Scope defaults to everyone when the server omits it.
	frames <- `{"type":"delete","message_id":"m2"}`
	del = waitSignal(t, handler.deletes, "default-scope delete")
	assert.Equal(t, models.DeleteScopeEveryone, del.scope)
	close(frames)
}

func TestChannelSkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		readJoin(t, ctx, conn)

		bad := []string{
			`not json at all`,
			`{"type":"message"}`,
			`{"type":"message","message":{"id":"","sent_at":"2026-03-10T12:00:00"}}`,
			`{"type":"delete"}`,
			`{"type":"presence","message_id":"x"}`,
		}
		for _, frame := range bad {
			require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
		}
		require.NoError(t, conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"message","message":{"id":"good","conversation_id":7,"sender_id":"bob","content":"still here","sent_at":"2026-03-10T12:00:00"}}`)))

		<-ctx.Done()
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	ch := New(Options{
		URL:            srv.URL,
		ConversationID: 7,
		Backoff:        testBackoff(),
		Logger:         quietLogger(),
	}, handler)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	msg := waitSignal(t, handler.messages, "surviving message")
	assert.Equal(t, "good", msg.ID)
	assert.Empty(t, handler.deletes)
}

func TestChannelReconnectsAndRejoins(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		ctx := r.Context()
		join := readJoin(t, ctx, conn)
		assert.Equal(t, int64(7), join.ConversationID)

		if conns.Add(1) == 1 {
			// Drop the first session right after the join so the
			// channel has to reconnect and join again.
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}

		defer conn.Close(websocket.StatusNormalClosure, "done")
		require.NoError(t, conn.Write(ctx, websocket.MessageText,
			[]byte(`{"type":"message","message":{"id":"after-reconnect","conversation_id":7,"sender_id":"bob","content":"back","sent_at":"2026-03-10T12:00:00"}}`)))
		<-ctx.Done()
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	ch := New(Options{
		URL:            srv.URL,
		ConversationID: 7,
		Backoff:        testBackoff(),
		Logger:         quietLogger(),
	}, handler)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	waitSignal(t, handler.connected, "first connect")
	waitSignal(t, handler.disconnected, "drop")
	waitSignal(t, handler.connected, "reconnect")

	msg := waitSignal(t, handler.messages, "post-reconnect message")
	assert.Equal(t, "after-reconnect", msg.ID)
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestChannelBackoffResetsAfterSuccessfulJoin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)

		// Complete the join, then drop the session so the channel has
		// to reconnect every time.
		readJoin(t, r.Context(), conn)
		conn.Close(websocket.StatusGoingAway, "cycle")
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	ch := New(Options{
		URL:            srv.URL,
		ConversationID: 7,
		Backoff: retry.BackoffConfig{
			InitialDelay: 40 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   4.0,
		},
		Logger: quietLogger(),
	}, handler)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	// Each session joins before it drops, so every reconnect should
	// wait close to the initial delay instead of climbing the schedule.
	var connectedAt []time.Time
	for i := 0; i < 5; i++ {
		waitSignal(t, handler.connected, "connect")
		connectedAt = append(connectedAt, time.Now())
	}
	for i := 1; i < len(connectedAt); i++ {
		gap := connectedAt[i].Sub(connectedAt[i-1])
		assert.Less(t, gap, 500*time.Millisecond, "reconnect %d waited %v", i, gap)
	}
}

func TestOpenValidation(t *testing.T) {
	handler := newRecordingHandler()

	ch := New(Options{URL: "ws://localhost:1", Backoff: testBackoff(), Logger: quietLogger()}, handler)
	err := ch.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation id")

	ch = New(Options{URL: "ws://localhost:1", ConversationID: 7, Backoff: testBackoff(), Logger: quietLogger()}, handler)
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	err = ch.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		<-r.Context().Done()
	}))
	defer srv.Close()

	handler := newRecordingHandler()
	ch := New(Options{
		URL:            srv.URL,
		ConversationID: 7,
		Backoff:        testBackoff(),
		Logger:         quietLogger(),
	}, handler)
	require.NoError(t, ch.Open(context.Background()))
	waitSignal(t, handler.connected, "connect")

	ch.Close()
	ch.Close()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
