package photostream

import (
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/photostream/pkg/socketio"
)

// Socket is one realtime connection. Handlers registered with On run on the
// socket's own goroutine.
type Socket interface {
	On(event string, fn func(args ...json.RawMessage))
	// Off removes the handlers of the named events, or all handlers.
	Off(events ...string)
	// Connect starts connecting asynchronously.
	Connect()
	Connected() bool
	Disconnect()
	Close() error
}

// DialOptions carries the transport settings of one Connect.
type DialOptions struct {
	// Query is forwarded verbatim as handshake query parameters.
	Query  map[string]string
	Header http.Header
	// TLS is nil for plain endpoints.
	TLS    *tls.Config
	Logger *slog.Logger
}

// Dialer creates sockets.
type Dialer interface {
	Dial(endpoint string, opts DialOptions) (Socket, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(endpoint string, opts DialOptions) (Socket, error)

func (f DialerFunc) Dial(endpoint string, opts DialOptions) (Socket, error) {
	return f(endpoint, opts)
}

var _ Socket = (*socketio.Client)(nil)

// SocketIODialer dials Socket.IO over WebSocket.
var SocketIODialer = DialerFunc(func(endpoint string, opts DialOptions) (Socket, error) {
	c, err := socketio.New(endpoint, socketio.Options{
		Query:     opts.Query,
		Header:    opts.Header,
		TLSConfig: opts.TLS,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
})
