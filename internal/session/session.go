package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"studychat/internal/constants"
	"studychat/internal/errors"
	"studychat/internal/metrics"
	"studychat/internal/models"
	"studychat/pkg/chatapi"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// placeholderPrefix marks client-generated ids so a pending entry can
// never collide with a backend-assigned id.
const placeholderPrefix = "pending-"

// ErrSendInFlight is returned when a send is attempted while another is
// still pending. Duplicate taps must not produce duplicate sends.
var ErrSendInFlight = errors.New(errors.ErrCodeInvalidInput, "a send is already in flight").
	WithUserMessage("Still sending your previous message")

// LiveChannel is the subscription owned by one session. The concrete
// implementation reconnects on its own; the session only reacts to the
// notifications it receives back through the Handler it passed in.
type LiveChannel interface {
	Open(ctx context.Context) error
	Close()
}

// ChannelFactory builds the live channel once the conversation identity
// is resolved. The session passes itself as the event handler.
type ChannelFactory func(conversationID int64, handler ChannelHandler) LiveChannel

// ChannelHandler mirrors the channel package's handler contract without
// importing it, keeping the dependency arrow pointing outward.
type ChannelHandler interface {
	OnConnected()
	OnDisconnected(err error)
	OnMessage(msg *models.Message)
	OnDeleted(messageID string, scope models.DeleteScope)
}

// Archive is the optional local message store. A nil archive disables
// persistence without branching anywhere else.
type Archive interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	MarkDeleted(ctx context.Context, conversationID int64, messageID string) error
	Remove(ctx context.Context, conversationID int64, messageID string) error
}

// Options configures one conversation session.
type Options struct {
	// ConversationID may be zero when the conversation does not exist
	// yet; it is then resolved through StartConversation keyed by
	// ParticipantID.
	ConversationID int64
	ParticipantID  string
	Kind           models.ConversationKind

	LocalUserID string

	API        chatapi.Client
	NewChannel ChannelFactory
	Archive    Archive
	Metrics    *metrics.Registry
	Logger     *logrus.Logger

	HistoryTimeout time.Duration
	SendTimeout    time.Duration

	// OnUpdate is invoked after the message sequence or session state
	// changed. OnError surfaces a user-visible, dismissible notice.
	// Both may be nil.
	OnUpdate func()
	OnError  func(userMessage string)
}

// Session owns the authoritative message sequence for one open
// conversation and reconciles the history batch, live pushes and local
// optimistic sends into a single ordered, duplicate-free view.
type Session struct {
	opts     Options
	logger   *logrus.Logger
	registry *metrics.Registry
	profiles *ProfileCache

	mu             sync.Mutex
	state          State
	connState      ConnectionState
	conversationID int64
	messages       []*models.Message
	index          map[string]int
	pendingDeletes map[string]models.DeleteScope
	pendingSends   map[string]chatapi.SendRequest
	sendInFlight   bool
	everConnected  bool
	lastError      string
	closed         bool
	channel        LiveChannel
}

// New creates a session. Open must be called to start syncing.
func New(opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, fmt.Errorf("session requires a backend client")
	}
	if opts.LocalUserID == "" {
		return nil, fmt.Errorf("session requires the local user id")
	}
	if opts.ConversationID == 0 && opts.ParticipantID == "" {
		return nil, fmt.Errorf("session requires a conversation id or a participant id")
	}
	if opts.Kind == "" {
		opts.Kind = models.ConversationDirect
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = constants.DefaultHistoryTimeoutSec * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = constants.DefaultSendTimeoutSec * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
		opts.Logger.SetLevel(logrus.WarnLevel)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}

	return &Session{
		opts:           opts,
		logger:         opts.Logger,
		registry:       opts.Metrics,
		profiles:       NewProfileCache(opts.API, opts.Logger),
		state:          StateResolving,
		connState:      ConnDisconnected,
		conversationID: opts.ConversationID,
		index:          make(map[string]int),
		pendingDeletes: make(map[string]models.DeleteScope),
		pendingSends:   make(map[string]chatapi.SendRequest),
	}, nil
}

// Open resolves the conversation, loads its history and opens the live
// channel. Resolution failure leaves the session in Resolving and is
// returned so the caller can retry; a history failure is surfaced but
// does not prevent the channel from being attempted.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session is closed")
	}
	s.mu.Unlock()

	if err := s.resolve(ctx); err != nil {
		return err
	}

	if err := s.loadHistory(ctx); err != nil {
		errors.LogError(s.logger, err, "History load failed")
	}

	s.openChannel(ctx)
	return nil
}

// Close tears the session down: the live channel is closed regardless
// of its connection state, and any in-flight history result is
// discarded when it lands. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ch := s.channel
	s.channel = nil
	s.connState = ConnDisconnected
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Send submits one outbound message. An optimistic entry appears
// immediately; the backend acknowledgement replaces it in place. The
// in-flight flag is reset on every exit path and a second Send while
// one is pending is rejected.
func (s *Session) Send(ctx context.Context, text, attachmentPath string) error {
	if text == "" && attachmentPath == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message must have text or an attachment")
	}
	if err := s.acquireSendGate(); err != nil {
		return err
	}
	return s.send(ctx, text, attachmentPath)
}

// acquireSendGate claims the single in-flight send slot. The caller
// owns the slot on a nil return and must release it via send or
// releaseSendGate.
func (s *Session) acquireSendGate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session is closed")
	}
	if s.sendInFlight {
		return ErrSendInFlight
	}
	s.sendInFlight = true
	return nil
}

func (s *Session) releaseSendGate() {
	s.mu.Lock()
	s.sendInFlight = false
	s.mu.Unlock()
	s.notifyUpdate()
}

// send runs the optimistic send with the in-flight slot already held
// and releases it on every exit path.
func (s *Session) send(ctx context.Context, text, attachmentPath string) error {
	defer s.releaseSendGate()

	if s.ConversationID() == 0 {
		if err := s.resolve(ctx); err != nil {
			return err
		}
	}
	convID := s.ConversationID()

	req := chatapi.SendRequest{
		ConversationID: convID,
		Text:           text,
		AttachmentPath: attachmentPath,
	}
	localID := placeholderPrefix + uuid.NewString()
	optimistic := &models.Message{
		ID:             localID,
		ConversationID: convID,
		SenderID:       s.opts.LocalUserID,
		Text:           text,
		SentAt:         time.Now().UTC(),
		Pending:        true,
	}

	s.mu.Lock()
	s.mergeLocked(optimistic)
	s.pendingSends[localID] = req
	s.mu.Unlock()
	s.notifyUpdate()

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	ack, err := s.opts.API.SendMessage(sendCtx, req)
	if err != nil {
		s.registry.IncrementCounter(metrics.SendFailures)
		s.mu.Lock()
		s.markSendFailedLocked(localID)
		s.mu.Unlock()
		s.surfaceError("Message could not be sent")
		return err
	}

	s.registry.IncrementCounter(metrics.SendsTotal)
	s.mu.Lock()
	s.resolveAckLocked(localID, ack)
	delete(s.pendingSends, localID)
	s.mu.Unlock()
	s.persist(ack)
	return nil
}

// RetrySend re-submits a previously failed optimistic entry. The
// in-flight slot is claimed before the failed bubble is touched, so a
// rejected retry leaves the entry in place for a later attempt.
func (s *Session) RetrySend(ctx context.Context, localID string) error {
	if err := s.acquireSendGate(); err != nil {
		return err
	}

	s.mu.Lock()
	req, ok := s.pendingSends[localID]
	if !ok {
		s.mu.Unlock()
		s.releaseSendGate()
		return errors.New(errors.ErrCodeInvalidInput, "no failed send with that id")
	}
	delete(s.pendingSends, localID)
	if idx, found := s.index[localID]; found {
		s.removeAtLocked(idx)
	}
	s.mu.Unlock()
	s.notifyUpdate()

	return s.send(ctx, req.Text, req.AttachmentPath)
}

// resolve determines the conversation identity, creating the
// conversation when it does not exist yet. Failure keeps the session in
// Resolving and surfaces a retryable notice.
func (s *Session) resolve(ctx context.Context) error {
	if s.ConversationID() != 0 {
		return nil
	}

	id, err := s.opts.API.StartConversation(ctx, s.opts.ParticipantID)
	if err != nil {
		s.surfaceError("Could not open the conversation")
		errors.LogError(s.logger, err, "Conversation resolution failed")
		return err
	}

	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()

	s.logger.WithField("conversation", id).Debug("Conversation resolved")
	return nil
}

// loadHistory fetches the persisted messages with a hard timeout and
// merges them. A 404 means no conversation exists yet; creation is
// attempted and an empty history is not an error after that.
func (s *Session) loadHistory(ctx context.Context) error {
	s.setState(StateLoading)

	convID := s.ConversationID()
	start := time.Now()
	batch, err := s.fetchHistory(ctx, convID)
	if err != nil && errors.IsNotFound(err) && s.opts.ParticipantID != "" {
		if resolveErr := s.recreate(ctx); resolveErr == nil {
			batch, err = s.fetchHistory(ctx, s.ConversationID())
			if err != nil && errors.IsNotFound(err) {
				// Freshly created conversation with no messages.
				batch, err = nil, nil
			}
		}
	}
	if err != nil {
		s.registry.IncrementCounter(metrics.HistoryLoadFailures)
		s.setState(StateError)
		s.surfaceError(errors.GetUserMessage(err))
		return err
	}

	s.mu.Lock()
	if s.closed {
		// The screen went away while the fetch was in flight; the
		// result is discarded.
		s.mu.Unlock()
		return nil
	}
	for _, msg := range batch {
		s.mergeLocked(msg)
	}
	s.state = StateLive
	s.mu.Unlock()

	s.registry.IncrementCounter(metrics.HistoryLoads)
	s.registry.RecordTimer("history_load", time.Since(start))
	s.notifyUpdate()

	s.logger.WithFields(logrus.Fields{
		"conversation": convID,
		"messages":     len(batch),
	}).Debug("History loaded")
	return nil
}

func (s *Session) fetchHistory(ctx context.Context, convID int64) ([]*models.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.HistoryTimeout)
	defer cancel()
	return s.opts.API.FetchHistory(fetchCtx, convID)
}

// recreate re-runs conversation creation after a history 404. The
// backend call is idempotent-in-effect, so an id we already hold is
// simply confirmed.
func (s *Session) recreate(ctx context.Context) error {
	id, err := s.opts.API.StartConversation(ctx, s.opts.ParticipantID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conversationID = id
	s.mu.Unlock()
	return nil
}

// openChannel builds and opens the live channel. Failure to start is
// logged, not fatal; reconnection afterwards is the channel's own job.
func (s *Session) openChannel(ctx context.Context) {
	if s.opts.NewChannel == nil {
		return
	}

	s.mu.Lock()
	if s.closed || s.channel != nil {
		s.mu.Unlock()
		return
	}
	ch := s.opts.NewChannel(s.conversationID, s)
	s.channel = ch
	s.connState = ConnConnecting
	s.mu.Unlock()
	s.notifyUpdate()

	if err := ch.Open(ctx); err != nil {
		errors.LogError(s.logger, errors.NewChannelError("failed to open live channel", err), "Live channel unavailable")
		s.mu.Lock()
		s.channel = nil
		s.connState = ConnDisconnected
		s.mu.Unlock()
	}
}

// OnConnected implements ChannelHandler.
func (s *Session) OnConnected() {
	s.mu.Lock()
	s.connState = ConnConnected
	s.everConnected = true
	s.mu.Unlock()
	s.notifyUpdate()
}

// OnDisconnected implements ChannelHandler. The channel retries on its
// own; the session only tracks the sub-state. A dial that never
// produced a connection is not a reconnect, so the counter only moves
// once a connection has existed.
func (s *Session) OnDisconnected(err error) {
	s.mu.Lock()
	if s.everConnected {
		s.registry.IncrementCounter(metrics.ChannelReconnects)
	}
	if !s.closed {
		s.connState = ConnReconnecting
	}
	s.mu.Unlock()
	s.notifyUpdate()
}

// OnMessage implements ChannelHandler: a pushed message is merged with
// the same dedup rules as every other source.
func (s *Session) OnMessage(msg *models.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	added := s.mergeLocked(msg)
	s.mu.Unlock()

	if added {
		s.persist(msg)
	}
	s.notifyUpdate()
}

// OnDeleted implements ChannelHandler.
func (s *Session) OnDeleted(messageID string, scope models.DeleteScope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	convID := s.conversationID
	applied := s.applyDeleteLocked(messageID, scope)
	s.mu.Unlock()

	if applied && s.opts.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultSendTimeoutSec*time.Second)
		defer cancel()
		var err error
		if scope == models.DeleteScopeMe {
			err = s.opts.Archive.Remove(ctx, convID, messageID)
		} else {
			err = s.opts.Archive.MarkDeleted(ctx, convID, messageID)
		}
		if err != nil {
			errors.LogError(s.logger, errors.NewStoreError("delete", err), "Archive update failed")
		}
	}
	s.notifyUpdate()
}

// Messages returns a snapshot of the current sequence.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = *msg
	}
	return out
}

// State returns the session lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionState returns the live channel sub-state.
func (s *Session) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// ConversationID returns the resolved id, zero while resolving.
func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SendInFlight reports whether a send is pending; the send control is
// disabled while true.
func (s *Session) SendInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendInFlight
}

// LastError returns the most recent user-visible notice, empty if none.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Profiles exposes the session-scoped sender identity cache.
func (s *Session) Profiles() *ProfileCache {
	return s.profiles
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notifyUpdate()
}

func (s *Session) surfaceError(userMessage string) {
	s.mu.Lock()
	s.lastError = userMessage
	s.mu.Unlock()
	if s.opts.OnError != nil {
		s.opts.OnError(userMessage)
	}
}

func (s *Session) notifyUpdate() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}

// persist writes an acknowledged message to the archive, if configured.
func (s *Session) persist(msg *models.Message) {
	if s.opts.Archive == nil || msg.Pending {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultSendTimeoutSec*time.Second)
	defer cancel()
	if err := s.opts.Archive.SaveMessage(ctx, msg); err != nil {
		errors.LogError(s.logger, errors.NewStoreError("save", err), "Archive write failed")
	}
}
