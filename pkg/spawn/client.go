// ABOUTME: Reconnecting relay client: dial, read loop, correlation, heartbeat.
// ABOUTME: Backoff is min(attempt*base, cap) for a bounded number of attempts.

package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/spawnhq/spawn-relay/pkg/policy"
)

var (
	// ErrClosed indicates the client was disconnected and will not be reused.
	ErrClosed = errors.New("spawn: client closed")

	// ErrConnectInFlight indicates a Connect call is already running.
	ErrConnectInFlight = errors.New("spawn: connect already in flight")

	// ErrAlreadyConnected indicates the client already holds a live connection.
	ErrAlreadyConnected = errors.New("spawn: already connected")

	// ErrNotConnected indicates an operation that needs a live connection.
	ErrNotConnected = errors.New("spawn: not connected")

	// ErrDismissed indicates a request expired without a reply. Callers treat
	// it as the user declining.
	ErrDismissed = errors.New("spawn: request dismissed")
)

const (
	defaultWriteTimeout = 10 * time.Second
	policyFetchTimeout  = 5 * time.Second
)

// Conn is the transport under a client. Production connections are
// WebSockets; tests substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// dialFunc opens a transport connection to the relay.
type dialFunc func(ctx context.Context, url, token string) (Conn, error)

// Listener receives connection lifecycle events and application messages.
// Implementations may embed NopListener to pick only the events they need.
type Listener interface {
	// OnConnect fires after each successful connection, including reconnects.
	OnConnect()

	// OnDisconnect fires when an established connection is lost. err is nil
	// for a deliberate Disconnect.
	OnDisconnect(err error)

	// OnMessage receives every non-control message from the relay.
	OnMessage(msg *Message)
}

// NopListener is a Listener that ignores everything.
type NopListener struct{}

func (NopListener) OnConnect()             {}
func (NopListener) OnDisconnect(err error) {}
func (NopListener) OnMessage(msg *Message) {}

// Client is a relay connection for one agent identity.
type Client struct {
	cfg      Config
	listener Listener
	logger   *slog.Logger
	dial     dialFunc

	mu         sync.Mutex
	conn       Conn
	connecting bool
	closed     bool
	policy     *policy.Document
	status     string
	pending    map[string]chan *Message

	subAgents       []*SubAgent
	spawnedThisHour int
	spawnWindow     time.Time
	lastCheckin     time.Time
	sessionStart    time.Time

	readCancel context.CancelFunc
	hbStop     chan struct{}
}

// NewClient creates a client. The listener may be nil.
func NewClient(cfg *Config, listener Listener) *Client {
	c := *cfg
	c.fillDefaults()
	if listener == nil {
		listener = NopListener{}
	}
	return &Client{
		cfg:      c,
		listener: listener,
		logger:   slog.Default().With("component", "spawn-client"),
		dial:     dialWebSocket,
		pending:  make(map[string]chan *Message),
	}
}

// SetLogger replaces the client's logger. Call before Connect.
func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

func dialWebSocket(ctx context.Context, url, token string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

// Connect dials the relay, fetches the initial policy, and starts the read
// loop and heartbeat. Fails fast if a connect is already in flight or a
// connection is already up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnectInFlight
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.dial(dialCtx, c.cfg.RelayURL, c.cfg.Token)
	cancel()

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dialing relay: %w", err)
	}
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	readCtx, readCancel := context.WithCancel(context.Background())
	c.readCancel = readCancel
	hbStop := make(chan struct{})
	c.hbStop = hbStop
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)
	go c.heartbeat(hbStop)

	c.fetchPolicy(ctx)
	c.safeOnConnect()
	return nil
}

// Disconnect tears the client down permanently. All pending requests resolve
// as dismissed and no reconnection is attempted. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan *Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	if conn != nil {
		conn.Close()
	}
	c.safeOnDisconnect(nil)
}

// Send transmits a message, filling id and ts if missing. When the client is
// closed or disconnected this is a no-op.
func (c *Client) Send(msg *Message) error {
	msg.fill()

	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed || conn == nil {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	return conn.Write(ctx, data)
}

// Request sends a message and waits for the correlated reply. Exactly one of
// the reply or ErrDismissed is delivered: a reply arriving after the timeout
// has fired is discarded.
func (c *Client) Request(ctx context.Context, msg *Message, timeout time.Duration) (*Message, error) {
	msg.fill()
	id := msg.RequestID()
	ch := make(chan *Message, 1)

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.Send(msg); err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			// Channel closed by teardown.
			return nil, ErrDismissed
		}
		return resp, nil
	case <-timer.C:
		c.removePending(id)
		// The reply may have been claimed between the timer firing and the
		// removal; honor it if so.
		select {
		case resp := <-ch:
			if resp != nil {
				return resp, nil
			}
		default:
		}
		return nil, ErrDismissed
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// Policy returns a snapshot of the most recently received policy document.
func (c *Client) Policy() *policy.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.policy == nil {
		return policy.Default()
	}
	return c.policy.Clone()
}

// Connected reports whether a live connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			c.handleReadFailure(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.logger.Debug("dropping malformed frame")
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *Message) {
	if ch := c.takePending(msg.RequestID()); ch != nil {
		ch <- msg
		return
	}

	switch msg.Type {
	case TypePing:
		c.Send(NewMessage(TypePong, map[string]string{"request_id": msg.RequestID()}))
	case TypePong:
		// Heartbeat ack.
	case TypePolicyUpdate:
		c.applyPolicy(msg.Payload)
	default:
		c.safeOnMessage(msg)
	}
}

// takePending claims the pending slot for a correlation ID. At most one
// caller can win the slot.
func (c *Client) takePending(id string) chan *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return ch
}

func (c *Client) removePending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) applyPolicy(payload json.RawMessage) {
	doc := policy.Default()
	if err := json.Unmarshal(payload, doc); err != nil {
		c.logger.Warn("ignoring unparseable policy_update", "error", err)
		return
	}
	c.mu.Lock()
	c.policy = doc
	c.mu.Unlock()
	c.logger.Debug("policy updated", "auto_spawn_mode", doc.AutoSpawnMode)
}

// fetchPolicy requests the current policy right after connecting. Failure is
// tolerated: the defaults stay in effect until a policy_update arrives.
func (c *Client) fetchPolicy(ctx context.Context) {
	resp, err := c.Request(ctx, NewMessage(TypeGetPolicy, nil), policyFetchTimeout)
	if err != nil {
		c.logger.Warn("initial policy fetch failed", "error", err)
		return
	}
	c.applyPolicy(resp.Payload)
}

// handleReadFailure runs teardown for a lost connection and kicks off the
// reconnect loop. Failures from superseded connections are ignored.
func (c *Client) handleReadFailure(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.readCancel = nil
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	pending := c.pending
	c.pending = make(map[string]chan *Message)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	conn.Close()

	c.logger.Warn("connection lost", "error", err)
	c.safeOnDisconnect(err)
	go c.reconnect()
}

// reconnect retries the connection with linear backoff capped at the
// configured ceiling. A successful attempt resets everything; exhausting the
// budget leaves the client disconnected until Connect is called again.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		delay := min(time.Duration(attempt)*c.cfg.ReconnectBase, c.cfg.ReconnectCap)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrAlreadyConnected) {
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
	c.logger.Error("reconnect attempts exhausted", "attempts", c.cfg.MaxReconnectAttempts)
}

func (c *Client) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Send(NewMessage(TypePing, nil)); err != nil {
				c.logger.Debug("heartbeat send failed", "error", err)
			}
		}
	}
}

// Listener callbacks run application code; a panic there must not kill the
// read loop.

func (c *Client) safeOnConnect() {
	defer c.recoverListener("OnConnect")
	c.listener.OnConnect()
}

func (c *Client) safeOnDisconnect(err error) {
	defer c.recoverListener("OnDisconnect")
	c.listener.OnDisconnect(err)
}

func (c *Client) safeOnMessage(msg *Message) {
	defer c.recoverListener("OnMessage")
	c.listener.OnMessage(msg)
}

func (c *Client) recoverListener(callback string) {
	if r := recover(); r != nil {
		c.logger.Error("listener panicked", "callback", callback, "panic", r)
	}
}
