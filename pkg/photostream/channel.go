package photostream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/user/photostream/internal/metrics"
	"github.com/user/photostream/internal/types"
)

// ErrInvalidEndpoint is returned for an unusable endpoint URI.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

const defaultFetchTimeout = 30 * time.Second

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	// Endpoint is the stream server URI (http, https, ws or wss).
	Endpoint string
	// Options are forwarded verbatim as transport query parameters.
	Options map[string]string
	Header  http.Header
	Trust   TrustConfig
	// FetchTimeout bounds the image fetch of one new_photo event.
	FetchTimeout time.Duration
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the Socket.IO dialer.
func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// WithLogger sets the Channel's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// Channel is the realtime event channel. It owns at most one live socket.
type Channel struct {
	cfg        ChannelConfig
	endpoint   *url.URL
	loader     ImageLoader
	cache      ImageCache
	listener   Listener
	dispatcher Dispatcher
	dialer     Dialer
	logger     *slog.Logger

	// connMu serializes Connect and Destroy; mu guards the fields below.
	connMu  sync.Mutex
	mu      sync.Mutex
	sock    Socket
	state   State
	session types.SessionID
	cancel  context.CancelFunc
}

// New creates a Channel. The listener is fixed for the Channel's lifetime;
// every callback is posted to dispatcher.
func New(cfg ChannelConfig, loader ImageLoader, cache ImageCache, listener Listener, dispatcher Dispatcher, opts ...Option) (*Channel, error) {
	u, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	switch {
	case loader == nil:
		return nil, errors.New("image loader is required")
	case cache == nil:
		return nil, errors.New("image cache is required")
	case listener == nil:
		return nil, errors.New("listener is required")
	case dispatcher == nil:
		return nil, errors.New("dispatcher is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	c := &Channel{
		cfg:        cfg,
		endpoint:   u,
		loader:     loader,
		cache:      cache,
		listener:   listener,
		dispatcher: dispatcher,
		dialer:     SocketIODialer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return u, nil
}

func (c *Channel) secure() bool {
	return c.endpoint.Scheme == "https" || c.endpoint.Scheme == "wss"
}

// Connect replaces any existing socket with a new one and starts
// connecting. The result is the socket's connected state right after the
// asynchronous connect was started and is usually false; completion is
// reported through Listener.OnConnect.
func (c *Channel) Connect() (bool, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.destroy()

	opts := DialOptions{
		Query:  c.cfg.Options,
		Header: c.cfg.Header,
		Logger: c.logger,
	}
	if c.secure() {
		tlsCfg, err := c.cfg.Trust.TLSConfig()
		if err != nil {
			return false, fmt.Errorf("build tls config: %w", err)
		}
		if c.cfg.Trust.Insecure() {
			c.logger.Warn("certificate verification disabled", "endpoint", c.endpoint.Host)
		}
		opts.TLS = tlsCfg
	}

	sock, err := c.dialer.Dial(c.endpoint.String(), opts)
	if err != nil {
		return false, fmt.Errorf("dial socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := types.NewSessionID()
	logger := c.logger.With("session_id", session)

	c.mu.Lock()
	c.sock = sock
	c.cancel = cancel
	c.session = session
	c.state = StateConnecting
	c.mu.Unlock()

	c.register(ctx, sock, logger)
	logger.Info("connecting", "endpoint", c.endpoint.Redacted())
	sock.Connect()
	return sock.Connected(), nil
}

// Destroy disconnects and releases the current socket and cancels pending
// image fetches. No callback is delivered for the destroyed socket after
// Destroy returns. Calling Destroy without a socket is a no-op.
func (c *Channel) Destroy() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.destroy()
}

func (c *Channel) destroy() {
	c.mu.Lock()
	sock, cancel := c.sock, c.cancel
	c.sock, c.cancel = nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sock == nil {
		return
	}
	if sock.Connected() {
		sock.Disconnect()
	}
	sock.Off()
	if err := sock.Close(); err != nil {
		c.logger.Warn("close socket", "error", err)
	}
	metrics.SetConnected(false)
}

// IsConnected reports whether a socket exists and is connected.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	return sock != nil && sock.Connected()
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID identifies the current connection in logs. It changes on every
// Connect.
func (c *Channel) SessionID() types.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Channel) setState(sock Socket, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == sock {
		c.state = s
	}
}

// post hands fn to the dispatcher unless the socket generation ended.
func (c *Channel) post(ctx context.Context, logger *slog.Logger, event string, fn func()) {
	if ctx.Err() != nil {
		return
	}
	ok := c.dispatcher.Post(func() {
		if ctx.Err() != nil {
			return
		}
		fn()
	})
	if !ok {
		logger.Warn("dispatcher rejected notification", "event", event)
	}
}

// handle wraps an event handler so that a failing decoder or loader cannot
// take down the transport goroutine.
func (c *Channel) handle(ctx context.Context, sock Socket, logger *slog.Logger, event string, fn func(args []json.RawMessage)) {
	sock.On(event, func(args ...json.RawMessage) {
		if ctx.Err() != nil {
			return
		}
		metrics.EventReceived(event)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("event handler panicked", "event", event, "panic", r)
			}
		}()
		fn(args)
	})
}

func (c *Channel) register(ctx context.Context, sock Socket, logger *slog.Logger) {
	c.handle(ctx, sock, logger, EventConnect, func([]json.RawMessage) {
		c.setState(sock, StateConnected)
		metrics.SetConnected(true)
		logger.Info("connected")
		c.post(ctx, logger, EventConnect, c.listener.OnConnect)
	})

	c.handle(ctx, sock, logger, EventDisconnect, func(args []json.RawMessage) {
		err := disconnectError(args)
		c.setState(sock, StateDisconnected)
		metrics.SetConnected(false)
		logger.Info("disconnected", "error", err)
		c.post(ctx, logger, EventDisconnect, func() { c.listener.OnDisconnect(err) })
	})

	c.handle(ctx, sock, logger, EventConnectError, func(args []json.RawMessage) {
		err := connectError(args)
		c.setState(sock, StateDisconnected)
		logger.Warn("connect failed", "error", err)
		c.post(ctx, logger, EventConnectError, func() { c.listener.OnDisconnect(err) })
	})

	c.handle(ctx, sock, logger, EventNewPhoto, func(args []json.RawMessage) {
		photo, err := DecodePhoto(args...)
		if err != nil {
			c.decodeFailed(logger, EventNewPhoto, err)
			return
		}
		c.handleNewPhoto(ctx, logger, photo)
	})

	c.handle(ctx, sock, logger, EventNewComment, func(args []json.RawMessage) {
		comment, err := DecodeComment(args...)
		if err != nil {
			c.decodeFailed(logger, EventNewComment, err)
			return
		}
		c.post(ctx, logger, EventNewComment, func() { c.listener.OnNewComment(comment) })
	})

	c.handle(ctx, sock, logger, EventCommentDeleted, func(args []json.RawMessage) {
		id, err := DecodeID(args...)
		if err != nil {
			c.decodeFailed(logger, EventCommentDeleted, err)
			return
		}
		c.post(ctx, logger, EventCommentDeleted, func() { c.listener.OnCommentDeleted(id) })
	})

	c.handle(ctx, sock, logger, EventPhotoDeleted, func(args []json.RawMessage) {
		id, err := DecodeID(args...)
		if err != nil {
			c.decodeFailed(logger, EventPhotoDeleted, err)
			return
		}
		c.post(ctx, logger, EventPhotoDeleted, func() { c.listener.OnPhotoDeleted(id) })
	})

	c.handle(ctx, sock, logger, EventNewCommentCount, func(args []json.RawMessage) {
		cc, err := DecodeCommentCount(args...)
		if err != nil {
			c.decodeFailed(logger, EventNewCommentCount, err)
			return
		}
		c.post(ctx, logger, EventNewCommentCount, func() { c.listener.OnCommentCountChanged(cc.PhotoID, cc.Count) })
	})
}

func (c *Channel) decodeFailed(logger *slog.Logger, event string, err error) {
	metrics.DecodeFailed(event)
	logger.Warn("dropping malformed event", "event", event, "error", err)
}

// handleNewPhoto fetches and caches the photo's image on the calling
// goroutine, then announces the photo. Events behind it wait.
func (c *Channel) handleNewPhoto(ctx context.Context, logger *slog.Logger, photo Photo) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	c.loader.Execute(fetchCtx, []Photo{photo})
	img := c.loader.Take(fetchCtx)
	for img != nil && img.Photo.ID != photo.ID {
		logger.Warn("discarding image result for another photo", "photo_id", photo.ID, "result_photo_id", img.Photo.ID)
		img = c.loader.Take(fetchCtx)
	}
	if ctx.Err() != nil {
		return
	}

	var err error
	switch {
	case img == nil:
		err = ErrNoImage
		if fetchCtx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrNoImage, fetchCtx.Err())
		}
	case img.Err != nil:
		err = img.Err
	case img.NotFound:
		err = ErrImageNotFound
	default:
		err = c.cache.CacheImage(ctx, img.Photo, img.Data)
		metrics.CacheWrite(err)
		if err != nil {
			err = fmt.Errorf("cache image: %w", err)
		}
	}

	if err != nil {
		logger.Warn("photo not announced", "photo_id", photo.ID, "error", err)
		if fl, ok := c.listener.(ImageFailureListener); ok {
			c.post(ctx, logger, EventNewPhoto, func() { fl.OnImageFailed(photo, err) })
		}
		return
	}
	logger.Debug("photo cached", "photo_id", photo.ID, "bytes", len(img.Data))
	c.post(ctx, logger, EventNewPhoto, func() { c.listener.OnNewPhoto(photo) })
}
