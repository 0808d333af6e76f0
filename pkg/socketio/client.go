// Package socketio is a minimal Socket.IO client over the WebSocket
// transport. It speaks Engine.IO protocol 4 (and 3 when the EIO query
// option says so), text packets only.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Reserved event names emitted by the client itself.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Disconnect reasons passed as the argument of EventDisconnect.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// ErrNotConnected is returned by Emit before the namespace is connected.
var ErrNotConnected = errors.New("socket not connected")

const (
	defaultPath             = "/socket.io/"
	defaultHandshakeTimeout = 20 * time.Second
	writeTimeout            = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// Path is the Engine.IO endpoint path. Defaults to "/socket.io/".
	Path string
	// Namespace overrides the namespace taken from the endpoint path.
	Namespace string
	// Query is forwarded verbatim as handshake query parameters.
	Query map[string]string
	Header http.Header
	// Auth is sent with the CONNECT packet (protocol 4 only).
	Auth             any
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// Client is a Socket.IO connection to one namespace. Handlers run on the
// connection's read goroutine, except for the disconnect that Disconnect
// itself triggers, which runs on the caller.
type Client struct {
	url       string
	namespace string
	eio       int
	opts      Options
	logger    *slog.Logger

	mu       sync.Mutex
	handlers map[string][]func(args ...json.RawMessage)
	cur      *session
	closed   bool
}

type session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	connected atomic.Bool
	once      sync.Once

	mu      sync.Mutex
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (s *session) conn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws
}

func (s *session) closeConn() {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws != nil {
		ws.Close()
	}
}

// New creates a client for endpoint (http, https, ws or wss). The endpoint
// path names the namespace, as in "https://host/admin".
func New(endpoint string, opts Options) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = strings.TrimRight(u.Path, "/")
	}
	if namespace == "" {
		namespace = "/"
	}
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}

	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	u.Path = path

	q := url.Values{}
	for k, v := range opts.Query {
		q.Set(k, v)
	}
	if q.Get("EIO") == "" {
		q.Set("EIO", "4")
	}
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()

	eio, err := strconv.Atoi(q.Get("EIO"))
	if err != nil || (eio != 3 && eio != 4) {
		return nil, fmt.Errorf("unsupported EIO version %q", q.Get("EIO"))
	}

	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:       u.String(),
		namespace: namespace,
		eio:       eio,
		opts:      opts,
		logger:    logger,
		handlers:  make(map[string][]func(args ...json.RawMessage)),
	}, nil
}

// URL returns the WebSocket URL the client dials.
func (c *Client) URL() string { return c.url }

// Namespace returns the namespace the client joins.
func (c *Client) Namespace() string { return c.namespace }

// On registers fn for event.
func (c *Client) On(event string, fn func(args ...json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Off removes the handlers of the named events, or of all events when none
// are named.
func (c *Client) Off(events ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(events) == 0 {
		c.handlers = make(map[string][]func(args ...json.RawMessage))
		return
	}
	for _, e := range events {
		delete(c.handlers, e)
	}
}

func (c *Client) emit(event string, args ...json.RawMessage) {
	c.mu.Lock()
	fns := append([]func(args ...json.RawMessage){}, c.handlers[event]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(args...)
	}
}

// Connect starts connecting in the background. It is a no-op while a
// connection attempt is active or after Close. Completion is reported
// through EventConnect or EventConnectError.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.cur != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel}
	c.cur = s
	c.mu.Unlock()

	go c.run(s)
}

// Connected reports whether the namespace is connected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	return s != nil && s.connected.Load()
}

// Disconnect leaves the namespace and closes the transport.
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil {
		return
	}
	if s.connected.Load() {
		if err := c.write(s, string(eioMessage)+Packet{Type: PacketDisconnect, Namespace: c.namespace, AckID: -1}.Encode()); err != nil {
			c.logger.Debug("socket.io disconnect packet not sent", "error", err)
		}
	}
	c.finish(s, ReasonClientDisconnect, nil)
}

// Close disconnects, removes all handlers and prevents reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
	c.Off()
	return nil
}

// Emit sends an event to the server.
func (c *Client) Emit(event string, args ...any) error {
	c.mu.Lock()
	s := c.cur
	c.mu.Unlock()
	if s == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal(append([]any{event}, args...))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p := Packet{Type: PacketEvent, Namespace: c.namespace, AckID: -1, Data: data}
	return c.write(s, string(eioMessage)+p.Encode())
}

func (c *Client) write(s *session, text string) error {
	ws := s.conn()
	if ws == nil {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// finish ends a session once. A connected session reports EventDisconnect
// with reason; an unconnected one reports EventConnectError with errData
// when it is set.
func (c *Client) finish(s *session, reason string, errData json.RawMessage) {
	s.once.Do(func() {
		c.mu.Lock()
		if c.cur == s {
			c.cur = nil
		}
		c.mu.Unlock()

		wasConnected := s.connected.Swap(false)
		s.cancel()
		s.closeConn()

		switch {
		case wasConnected:
			c.logger.Debug("socket.io disconnected", "namespace", c.namespace, "reason", reason)
			c.emit(EventDisconnect, mustJSON(reason))
		case errData != nil:
			c.logger.Debug("socket.io connect error", "namespace", c.namespace, "error", string(errData))
			c.emit(EventConnectError, errData)
		}
	})
}

func errorData(err error) json.RawMessage {
	return mustJSON(map[string]string{"message": err.Error()})
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}

func (c *Client) run(s *session) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
		TLSClientConfig:  c.opts.TLSConfig,
	}
	ws, resp, err := dialer.DialContext(s.ctx, c.url, c.opts.Header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		c.finish(s, ReasonTransportError, errorData(fmt.Errorf("dial: %w", err)))
		return
	}
	s.mu.Lock()
	s.ws = ws
	s.mu.Unlock()
	if s.ctx.Err() != nil {
		ws.Close()
		return
	}

	open, err := c.handshake(ws)
	if err != nil {
		c.finish(s, ReasonTransportError, errorData(err))
		return
	}
	c.logger.Debug("engine.io open", "sid", open.SID, "ping_interval_ms", open.PingInterval, "eio", c.eio)

	if c.eio == 4 || c.namespace != "/" {
		connect := Packet{Type: PacketConnect, Namespace: c.namespace, AckID: -1}
		if c.eio == 4 && c.opts.Auth != nil {
			auth, err := json.Marshal(c.opts.Auth)
			if err != nil {
				c.finish(s, ReasonTransportError, errorData(fmt.Errorf("encode auth: %w", err)))
				return
			}
			connect.Data = auth
		}
		if err := c.write(s, string(eioMessage)+connect.Encode()); err != nil {
			c.finish(s, ReasonTransportError, errorData(fmt.Errorf("send connect: %w", err)))
			return
		}
	}

	interval := time.Duration(open.PingInterval) * time.Millisecond
	timeout := time.Duration(open.PingTimeout) * time.Millisecond
	if c.eio == 3 && interval > 0 {
		go c.pingLoop(s, interval)
	}
	c.readLoop(s, ws, interval+timeout)
}

func (c *Client) handshake(ws *websocket.Conn) (*openPayload, error) {
	ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read open packet: %w", err)
	}
	if len(msg) == 0 || msg[0] != eioOpen {
		return nil, fmt.Errorf("unexpected handshake packet %q", msg)
	}
	var open openPayload
	if err := json.Unmarshal(msg[1:], &open); err != nil {
		return nil, fmt.Errorf("decode open packet: %w", err)
	}
	return &open, nil
}

func (c *Client) pingLoop(s *session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(s, string(eioPing)); err != nil {
				c.logger.Debug("engine.io ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(s *session, ws *websocket.Conn, idle time.Duration) {
	for {
		if idle > 0 {
			ws.SetReadDeadline(time.Now().Add(idle))
		} else {
			ws.SetReadDeadline(time.Time{})
		}
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			reason := ReasonTransportClose
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = ReasonPingTimeout
			}
			c.finish(s, reason, errorData(err))
			return
		}
		c.handleFrame(s, string(msg))
		if s.ctx.Err() != nil {
			return
		}
	}
}

func (c *Client) handleFrame(s *session, msg string) {
	if msg == "" {
		return
	}
	switch msg[0] {
	case eioPing:
		if err := c.write(s, string(eioPong)+msg[1:]); err != nil {
			c.logger.Debug("engine.io pong failed", "error", err)
		}
	case eioPong, eioNoop:
	case eioClose:
		c.finish(s, ReasonTransportClose, errorData(errors.New("server closed transport")))
	case eioMessage:
		c.handlePacket(s, msg[1:])
	default:
		c.logger.Debug("ignoring engine.io packet", "type", string(msg[0]))
	}
}

func (c *Client) handlePacket(s *session, raw string) {
	p, err := ParsePacket(raw)
	if err != nil {
		c.logger.Warn("dropping socket.io packet", "error", err)
		return
	}
	if p.Namespace != c.namespace {
		return
	}

	switch p.Type {
	case PacketConnect:
		if s.connected.CompareAndSwap(false, true) {
			c.logger.Debug("socket.io connected", "namespace", c.namespace)
			c.emit(EventConnect)
		}
	case PacketDisconnect:
		c.finish(s, ReasonServerDisconnect, errorData(errors.New("server refused namespace")))
	case PacketConnectError:
		data := p.Data
		if data == nil {
			data = errorData(errors.New("connect error"))
		}
		c.finish(s, ReasonServerDisconnect, data)
	case PacketEvent:
		name, args, err := p.Event()
		if err != nil {
			c.logger.Warn("dropping socket.io event", "error", err)
			return
		}
		if p.AckID >= 0 {
			ack := Packet{Type: PacketAck, Namespace: c.namespace, AckID: p.AckID, Data: json.RawMessage(`[]`)}
			if err := c.write(s, string(eioMessage)+ack.Encode()); err != nil {
				c.logger.Debug("socket.io ack failed", "error", err)
			}
		}
		c.emit(name, args...)
	case PacketAck:
	}
}
