package gatherly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ChatState is the lifecycle state of one room's connection.
type ChatState string

const (
	ChatDisconnected ChatState = "disconnected"
	ChatConnecting   ChatState = "connecting"
	ChatOpen         ChatState = "open"
	ChatClosing      ChatState = "closing"
	ChatClosed       ChatState = "closed"
	ChatErrored      ChatState = "errored"
)

var (
	ErrNotOpen           = errors.New("chat room is not open")
	ErrEmptyMessage      = errors.New("chat message is empty")
	ErrChatManagerClosed = errors.New("chat manager closed")
)

// ============================================================================
// Configuration
// ============================================================================

type ChatOption func(*ChatManager)

func WithChatHTTPClient(client *http.Client) ChatOption {
	return func(m *ChatManager) { m.httpClient = client }
}

func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(m *ChatManager) { m.logger = logger }
}

func WithChatMetrics(metrics *Metrics) ChatOption {
	return func(m *ChatManager) { m.metrics = metrics }
}

// WithDialTimeout bounds the websocket handshake.
func WithDialTimeout(d time.Duration) ChatOption {
	return func(m *ChatManager) { m.dialTimeout = d }
}

// chatURL maps an http(s) base to the room's ws(s) endpoint. The credential
// travels as a query parameter so it is checked before any frame is read.
func chatURL(base string, roomID int64, token string) string {
	wsURL := strings.Replace(base, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/")
	return fmt.Sprintf("%s/ws/chat/%d?token=%s", wsURL, roomID, url.QueryEscape(token))
}

// ============================================================================
// ChatManager
// ============================================================================

type chatSession struct {
	roomID int64
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// ChatManager keeps at most one live connection per room and the in-memory
// message history of every room it has seen.
//
// Handlers run on the room's read goroutine. They must not call Disconnect
// or Connect for the room that delivered the message.
type ChatManager struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     *Metrics
	dialTimeout time.Duration

	// connectMu orders Connect calls so a replaced session is fully closed
	// before its successor dials.
	connectMu sync.Mutex

	mu       sync.Mutex
	sessions map[int64]*chatSession
	states   map[int64]ChatState
	history  map[int64][]ChatMessage
	closed   bool

	handlersMu    sync.RWMutex
	onMessage     []func(roomID int64, msg ChatMessage)
	onStateChange []func(roomID int64, state ChatState)
}

// NewChatManager creates a manager for rooms under baseURL. An http(s) base
// is rewritten to ws(s).
func NewChatManager(baseURL string, opts ...ChatOption) *ChatManager {
	m := &ChatManager{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  http.DefaultClient,
		logger:      discardLogger(),
		dialTimeout: 10 * time.Second,
		sessions:    make(map[int64]*chatSession),
		states:      make(map[int64]ChatState),
		history:     make(map[int64][]ChatMessage),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnMessage registers a handler for inbound messages.
func (m *ChatManager) OnMessage(h func(roomID int64, msg ChatMessage)) {
	m.handlersMu.Lock()
	m.onMessage = append(m.onMessage, h)
	m.handlersMu.Unlock()
}

// OnStateChange registers a handler for room state transitions.
func (m *ChatManager) OnStateChange(h func(roomID int64, state ChatState)) {
	m.handlersMu.Lock()
	m.onStateChange = append(m.onStateChange, h)
	m.handlersMu.Unlock()
}

// State returns the room's state; rooms never connected are Disconnected.
func (m *ChatManager) State(roomID int64) ChatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[roomID]; ok {
		return s
	}
	return ChatDisconnected
}

// Messages returns a copy of the room's history in arrival order.
func (m *ChatManager) Messages(roomID int64) []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatMessage(nil), m.history[roomID]...)
}

// ClearMessages drops the room's history.
func (m *ChatManager) ClearMessages(roomID int64) {
	m.mu.Lock()
	delete(m.history, roomID)
	m.mu.Unlock()
}

// Connect opens the room's connection, closing any existing one first. An
// empty credential is a no-op: nothing is dialed and the state is unchanged.
func (m *ChatManager) Connect(ctx context.Context, roomID int64, credential string) error {
	if credential == "" {
		m.logger.Debug("chat connect skipped without credential", "room", roomID)
		return nil
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrChatManagerClosed
	}
	old := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()
	if old != nil {
		m.shutdown(old)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	s := &chatSession{roomID: roomID, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.sessions[roomID] = s
	m.mu.Unlock()
	m.transition(s, ChatConnecting)

	conn, _, err := websocket.Dial(dialCtx, chatURL(m.baseURL, roomID, credential), &websocket.DialOptions{
		HTTPClient: m.httpClient,
	})
	cancel()

	m.mu.Lock()
	current := m.sessions[roomID] == s
	if current && err != nil {
		delete(m.sessions, roomID)
	}
	if current && err == nil {
		readCtx, readCancel := context.WithCancel(context.Background())
		s.conn = conn
		s.cancel = readCancel
		m.mu.Unlock()

		m.metrics.chatOpened()
		m.transition(s, ChatOpen)
		m.logger.Info("chat room open", "room", roomID)
		go m.readLoop(readCtx, s)
		return nil
	}
	m.mu.Unlock()

	// Either the dial failed, or the session was torn down while dialing.
	close(s.done)
	if err != nil {
		if current {
			m.logger.Warn("chat dial failed", "room", roomID, "err", err)
			m.settle(roomID, ChatErrored)
		}
		return fmt.Errorf("chat dial room %d: %w", roomID, err)
	}
	conn.Close(websocket.StatusNormalClosure, "superseded")
	return nil
}

// Send writes content to the room as one text frame. Nothing is echoed
// locally; the message shows up in history once the server relays it.
func (m *ChatManager) Send(ctx context.Context, roomID int64, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	var conn *websocket.Conn
	if s := m.sessions[roomID]; s != nil && m.states[roomID] == ChatOpen {
		conn = s.conn
	}
	m.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(content)); err != nil {
		return fmt.Errorf("chat send room %d: %w", roomID, err)
	}
	m.metrics.chatMessage("out")
	return nil
}

// Disconnect closes the room from Connecting or Open with a normal closure.
// In any other state it does nothing.
func (m *ChatManager) Disconnect(roomID int64) error {
	m.mu.Lock()
	s := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	m.shutdown(s)
	return nil
}

// Close disconnects every room. Later Connect calls fail.
func (m *ChatManager) Close() {
	m.mu.Lock()
	m.closed = true
	rooms := make([]int64, 0, len(m.sessions))
	for id := range m.sessions {
		rooms = append(rooms, id)
	}
	m.mu.Unlock()

	for _, id := range rooms {
		_ = m.Disconnect(id)
	}
}

// shutdown closes a session that has already been removed from the map.
func (m *ChatManager) shutdown(s *chatSession) {
	m.settle(s.roomID, ChatClosing)

	m.mu.Lock()
	conn, cancel := s.conn, s.cancel
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			m.logger.Debug("chat close handshake", "room", s.roomID, "err", err)
		}
	}
	cancel()
	<-s.done

	m.settle(s.roomID, ChatClosed)
	m.logger.Info("chat room closed", "room", s.roomID)
}

func (m *ChatManager) readLoop(ctx context.Context, s *chatSession) {
	defer close(s.done)
	defer m.metrics.chatClosed()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			current := m.sessions[s.roomID] == s
			if current {
				delete(m.sessions, s.roomID)
			}
			m.mu.Unlock()
			if !current {
				return
			}

			s.cancel()
			state := ChatErrored
			if websocket.CloseStatus(err) != -1 {
				state = ChatClosed
			} else {
				s.conn.Close(websocket.StatusInternalError, "")
			}
			m.logger.Info("chat room ended by transport", "room", s.roomID, "state", state, "err", err)
			m.settle(s.roomID, state)
			return
		}

		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("skipping undecodable chat frame", "room", s.roomID, "err", err)
			continue
		}
		m.metrics.chatMessage("in")

		m.mu.Lock()
		m.history[s.roomID] = append(m.history[s.roomID], msg)
		m.mu.Unlock()

		m.handlersMu.RLock()
		handlers := append([]func(int64, ChatMessage){}, m.onMessage...)
		m.handlersMu.RUnlock()
		for _, h := range handlers {
			func() {
				defer func() { recover() }()
				h(s.roomID, msg)
			}()
		}
	}
}

// transition records state for a session that is still the room's current
// one. A superseded session cannot overwrite its successor's state.
func (m *ChatManager) transition(s *chatSession, state ChatState) {
	m.mu.Lock()
	if m.sessions[s.roomID] != s {
		m.mu.Unlock()
		return
	}
	m.states[s.roomID] = state
	m.mu.Unlock()
	m.emitState(s.roomID, state)
}

// settle records state for a room whose session was removed, unless a new
// session has been installed since.
func (m *ChatManager) settle(roomID int64, state ChatState) {
	m.mu.Lock()
	if m.sessions[roomID] != nil {
		m.mu.Unlock()
		return
	}
	m.states[roomID] = state
	m.mu.Unlock()
	m.emitState(roomID, state)
}

func (m *ChatManager) emitState(roomID int64, state ChatState) {
	m.handlersMu.RLock()
	handlers := append([]func(int64, ChatState){}, m.onStateChange...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(roomID, state)
		}()
	}
}
