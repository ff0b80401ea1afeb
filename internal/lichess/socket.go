package lichess

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// MessageCallback receives every inbound frame verbatim.
type MessageCallback func(raw []byte)

type StateCallback func(state State)

// HeaderProvider injects headers into HTTP requests and the socket handshake.
type HeaderProvider func() map[string]string

type callbackEntry struct {
	id       int
	callback MessageCallback
}

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Socket is a reconnecting websocket to a game's round socket. Frames are
// handed to the registered callbacks on the read goroutine; writes are
// serialized.
type Socket struct {
	socketURL string
	sri       string
	logger    *zap.Logger

	conn   *websocket.Conn
	connM  sync.RWMutex
	writeM sync.Mutex

	state  State
	stateM sync.RWMutex

	msgCbs   []callbackEntry
	stateCbs []stateCallbackEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration

	pingInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc

	headerProvider HeaderProvider
}

func NewSocket(socketURL string, maxReconnectAttempts int, reconnectDelay time.Duration, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Socket{
		socketURL:            socketURL,
		sri:                  strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		logger:               logger,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         2 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              rootCtx,
		rootCancel:           rootCancel,
	}
}

// SetHeaderProvider sets the headers sent with every handshake.
func (s *Socket) SetHeaderProvider(h HeaderProvider) { s.headerProvider = h }

// SetPingInterval changes the keepalive period. Call before Connect.
func (s *Socket) SetPingInterval(d time.Duration) {
	if d > 0 {
		s.pingInterval = d
	}
}

func (s *Socket) State() State {
	s.stateM.RLock()
	defer s.stateM.RUnlock()
	return s.state
}

// Alive reports whether a connection is up and writable.
func (s *Socket) Alive() bool {
	s.connM.RLock()
	up := s.conn != nil
	s.connM.RUnlock()
	return up && s.State() == StateConnected
}

func (s *Socket) Connect(ctx context.Context) error {
	s.stateM.Lock()
	if s.state == StateConnected || s.state == StateConnecting {
		s.stateM.Unlock()
		return nil
	}
	s.stateM.Unlock()

	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateFailed)
		s.scheduleReconnect()
		return err
	}
	s.attach(conn)
	return nil
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.dialURL(), &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Socket) attach(conn *websocket.Conn) {
	s.connM.Lock()
	s.conn = conn
	s.connM.Unlock()
	s.setState(StateConnected)
	s.logger.Info("socket_connected", zap.String("url", s.socketURL))

	connDone := make(chan struct{})
	s.wg.Add(2)
	go s.listen(conn, connDone)
	go s.pingLoop(conn, connDone)
}

func (s *Socket) listen(conn *websocket.Conn, connDone chan struct{}) {
	defer s.wg.Done()
	defer close(connDone)
	for {
		_, data, err := conn.Read(s.rootCtx)
		if err != nil {
			if s.isStopping() {
				return
			}
			s.logger.Warn("socket_read_failed", zap.Error(err))
			s.drop(conn, "reconnect")
			return
		}

		s.cbM.RLock()
		callbacks := make([]callbackEntry, len(s.msgCbs))
		copy(callbacks, s.msgCbs)
		s.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(data)
			}
		}
	}
}

// pingLoop sends the site's keepalive frame; it ends with its connection.
func (s *Socket) pingLoop(conn *websocket.Conn, connDone chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-s.stopCh:
			return
		case <-connDone:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(s.rootCtx, 3*time.Second)
			s.writeM.Lock()
			err := conn.Write(ctx, websocket.MessageText, []byte("null"))
			s.writeM.Unlock()
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					if s.isStopping() {
						return
					}
					s.logger.Warn("socket_ping_failed", zap.Error(err))
					s.drop(conn, "ping failure")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// drop closes conn if it is still the current connection and starts
// reconnecting. Both loops of a connection may call it.
func (s *Socket) drop(conn *websocket.Conn, reason string) {
	s.connM.Lock()
	if s.conn != conn {
		s.connM.Unlock()
		return
	}
	s.conn = nil
	s.connM.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, reason)
	s.setState(StateDisconnected)
	s.scheduleReconnect()
}

func (s *Socket) scheduleReconnect() {
	if s.maxReconnectAttempts <= 0 {
		return
	}
	s.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(backoff(s.reconnectDelay, attempt)):
			}

			conn, err := s.dial(s.rootCtx)
			if err != nil {
				s.logger.Debug("socket_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			if s.isStopping() {
				_ = conn.Close(websocket.StatusNormalClosure, "close")
				return
			}
			s.attach(conn)
			return
		}
		s.setState(StateFailed)
	}()
}

// Send writes v as one JSON text frame.
func (s *Socket) Send(ctx context.Context, v any) error {
	s.connM.RLock()
	conn := s.conn
	s.connM.RUnlock()
	if conn == nil || s.State() != StateConnected {
		return ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	s.writeM.Lock()
	defer s.writeM.Unlock()
	return wsjson.Write(ctx, conn, v)
}

func (s *Socket) OnMessage(cb MessageCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextCbID++
	s.msgCbs = append(s.msgCbs, callbackEntry{id: s.nextCbID, callback: cb})
	return s.nextCbID
}

func (s *Socket) RemoveMessageCallback(id int) {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	for i, cb := range s.msgCbs {
		if cb.id == id {
			s.msgCbs = append(s.msgCbs[:i], s.msgCbs[i+1:]...)
			break
		}
	}
}

func (s *Socket) OnStateChange(cb StateCallback) int {
	s.cbM.Lock()
	defer s.cbM.Unlock()
	s.nextCbID++
	s.stateCbs = append(s.stateCbs, stateCallbackEntry{id: s.nextCbID, callback: cb})
	return s.nextCbID
}

func (s *Socket) setState(state State) {
	s.stateM.Lock()
	s.state = state
	s.stateM.Unlock()

	s.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(s.stateCbs))
	copy(callbacks, s.stateCbs)
	s.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

func (s *Socket) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.connM.Lock()
	conn := s.conn
	s.conn = nil
	s.connM.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}
	s.setState(StateDisconnected)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.rootCancel()
		return nil
	}
}

func (s *Socket) isStopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// dialURL adds the per-client socket id unless the URL already has one.
func (s *Socket) dialURL() string {
	u, err := url.Parse(s.socketURL)
	if err != nil {
		return s.socketURL
	}
	q := u.Query()
	if q.Get("sri") == "" {
		q.Set("sri", s.sri)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (s *Socket) buildHeaders() http.Header {
	hdr := http.Header{}
	if s.headerProvider == nil {
		return hdr
	}
	for k, v := range s.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
