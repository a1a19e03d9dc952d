// Package remote forwards graph events to a remote editor over Socket.IO and
// answers its requests for the current graph document.
package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/specialistvlad/audiogrid/internal/events"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Socket.IO event names used by the bridge.
const (
	EventName          = "audiogrid:event"
	GraphName          = "audiogrid:graph"
	GraphRequestName   = "audiogrid:graph_request"
	LogName            = "audiogrid:node_log"
	defaultDialTimeout = 15 * time.Second
)

// Options configures the connection to the editor.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Conn is the part of a Socket.IO client socket the bridge uses.
type Conn interface {
	Emit(ev string, args ...any) error
	On(ev types.EventName, listeners ...types.Listener) error
	Connected() bool
}

// DocumentSource provides the current graph document.
type DocumentSource interface {
	Document(ctx context.Context) (*document.Document, error)
}

// Dial connects to a Socket.IO server and waits for the connection to be
// established.
func Dial(ctx context.Context, opts Options) (*socket.Socket, error) {
	logger := ctxlog.FromContext(ctx).With("url", opts.URL)
	logger.Info("Connecting to remote editor.")

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to remote editor.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connectChan <- err
	})
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

// Bridge relays bus events to a connection.
type Bridge struct {
	conn       Conn
	source     DocumentSource
	lastDigest string
}

// NewBridge creates a bridge. source may be nil, in which case graph
// documents are never sent.
func NewBridge(conn Conn, source DocumentSource) *Bridge {
	return &Bridge{conn: conn, source: source}
}

// LogMessage is the payload of LogName.
type LogMessage struct {
	Node  uint32   `json:"node"`
	Lines []string `json:"lines"`
}

// GraphMessage is the payload of GraphName.
type GraphMessage struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	HCL    string `json:"hcl"`
}

// Run forwards events until ctx is done. Node logs go out as LogName
// messages. After every topology or node state change, and whenever the
// editor asks, the current document is sent if it differs from the last one
// sent.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) error {
	logger := ctxlog.FromContext(ctx)
	evs, cancel := bus.Subscribe(256)
	defer cancel()

	requests := make(chan struct{}, 1)
	if err := b.conn.On(types.EventName(GraphRequestName), func(...any) {
		select {
		case requests <- struct{}{}:
		default:
		}
	}); err != nil {
		return fmt.Errorf("registering %s handler: %w", GraphRequestName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-requests:
			b.lastDigest = ""
			b.sendDocument(ctx)
		case e := <-evs:
			if !b.conn.Connected() {
				continue
			}
			if e.Kind == events.NodeLog {
				if err := b.conn.Emit(LogName, LogMessage{Node: e.Node, Lines: e.Log}); err != nil {
					logger.Warn("Failed to forward node log.", "node", e.Node, "error", err)
				}
				continue
			}
			if err := b.conn.Emit(EventName, e); err != nil {
				logger.Warn("Failed to forward event.", "event", e.String(), "error", err)
			}
			if e.Kind == events.TopologyChanged || e.Kind == events.NodeStateChanged {
				b.sendDocument(ctx)
			}
		}
	}
}

func (b *Bridge) sendDocument(ctx context.Context) {
	if b.source == nil || !b.conn.Connected() {
		return
	}
	logger := ctxlog.FromContext(ctx)
	d, err := b.source.Document(ctx)
	if err != nil {
		logger.Warn("Failed to capture graph document.", "error", err)
		return
	}
	data, err := document.Encode(d)
	if err != nil {
		logger.Warn("Failed to encode graph document.", "error", err)
		return
	}
	digest := document.DigestEncoded(data)
	if digest == b.lastDigest {
		return
	}
	if err := b.conn.Emit(GraphName, GraphMessage{Name: d.Name, Digest: digest, HCL: string(data)}); err != nil {
		logger.Warn("Failed to send graph document.", "error", err)
		return
	}
	b.lastDigest = digest
	logger.Debug("Graph document sent.", "digest", digest)
}
