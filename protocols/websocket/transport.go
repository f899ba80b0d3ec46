// protocols/websocket/transport.go
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/wsgate/pkg/interfaces"
	"github.com/lisuiheng/wsgate/utils"
)

var _ interfaces.ConnectionProvider = (*Provider)(nil)

const DefaultServicesPath = "/services"

// Config 定义websocket特有的配置
type Config struct {
	URL               string
	ServicesPath      string
	ProtocolVersion   int
	Headers           map[string]string
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

type pendingOpen struct {
	path    string
	handler interfaces.ChannelHandler
	opts    *interfaces.ChannelOptions
}

// Provider multiplexes channels over a single websocket connection and
// redials it when the connection is lost.
type Provider struct {
	config Config
	base   *url.URL
	dialer *websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	outer    interfaces.ConnectionProvider
	conn     *websocket.Conn
	channels map[int]*Channel
	pending  []pendingOpen
	nextID   int

	writeMu   sync.Mutex
	closeChan chan struct{}
	closeOnce sync.Once
}

func NewProvider(config Config, log *slog.Logger) (*Provider, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.New("websocket url missing")
	}
	base, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket url %q: %w", config.URL, err)
	}
	if _, err := websocketScheme(base.Scheme); err != nil {
		return nil, err
	}
	if config.ServicesPath == "" {
		config.ServicesPath = DefaultServicesPath
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 15 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Provider{
		config: config,
		base:   base,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger:    log,
		channels:  make(map[int]*Channel),
		closeChan: make(chan struct{}),
	}, nil
}

// SetOuter routes reconnects and URL construction through a wrapping provider.
func (p *Provider) SetOuter(outer interfaces.ConnectionProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outer = outer
}

func (p *Provider) outerProvider() interfaces.ConnectionProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outer == nil {
		return p
	}
	return p.outer
}

// CreateWebSocketURL resolves path against the configured endpoint and
// switches http(s) to ws(s). The query of path is kept verbatim.
func (p *Provider) CreateWebSocketURL(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidPath, err)
	}
	u := p.base.ResolveReference(ref)
	scheme, err := websocketScheme(u.Scheme)
	if err != nil {
		return "", err
	}
	u.Scheme = scheme
	return u.String(), nil
}

func websocketScheme(scheme string) (string, error) {
	switch scheme {
	case "http", "ws":
		return "ws", nil
	case "https", "wss":
		return "wss", nil
	default:
		return "", fmt.Errorf("unsupported url scheme %q", scheme)
	}
}

// OpenChannel opens a channel right away when connected, otherwise on the
// next successful connect.
func (p *Provider) OpenChannel(path string, handler interfaces.ChannelHandler, opts *interfaces.ChannelOptions) {
	p.mu.Lock()
	if p.conn == nil {
		p.pending = append(p.pending, pendingOpen{path: path, handler: handler, opts: opts})
		p.mu.Unlock()
		p.logger.Debug("Channel open deferred until connected", "path", path)
		return
	}
	p.nextID++
	ch := newChannel(p.nextID, path, p, handler, opts)
	p.channels[ch.id] = ch
	p.mu.Unlock()

	p.logger.Debug("Opening channel", "id", ch.id, "path", path)
	if err := ch.open(); err != nil {
		p.logger.Warn("Failed to send channel open", "id", ch.id, "path", path, "error", err)
	}
}

// Channels returns a snapshot of the registered channels ordered by id.
func (p *Provider) Channels() []interfaces.Channel {
	p.mu.Lock()
	out := make([]interfaces.Channel, 0, len(p.channels))
	for _, ch := range p.channels {
		out = append(out, ch)
	}
	p.mu.Unlock()

	slices.SortFunc(out, func(a, b interfaces.Channel) int { return a.ID() - b.ID() })
	return out
}

func (p *Provider) channelClosed(ch *Channel, code int, reason string) {
	p.mu.Lock()
	current, ok := p.channels[ch.id]
	if ok && current == ch {
		delete(p.channels, ch.id)
	}
	p.mu.Unlock()
	if !ok || current != ch {
		return
	}

	p.logger.Debug("Channel closed", "id", ch.id, "path", ch.path, "code", code, "reason", reason)
	if ch.opts.ShouldReconnect() && !p.isClosed() {
		p.outerProvider().OpenChannel(ch.path, ch.handler, ch.opts)
	}
}

// Connected reports whether the socket is currently established.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Run dials the services endpoint and keeps the connection alive until ctx
// is done or Close is called.
func (p *Provider) Run(ctx context.Context) error {
	backoff := utils.NewExponentialBackoffWith(p.config.ReconnectDelay, p.config.MaxReconnectDelay)
	for {
		if p.isClosed() || ctx.Err() != nil {
			return nil
		}

		conn, err := p.connect(ctx)
		if err != nil {
			delay := backoff.NextDelay()
			p.logger.Warn("Failed to connect, retrying", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-p.closeChan:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		backoff.Reset()
		p.flushPending()

		err = p.readPump(ctx, conn)
		p.dropConnection(conn)
		if !p.isClosed() && ctx.Err() == nil {
			p.logger.Warn("Connection lost", "error", err)
		}
	}
}

func (p *Provider) connect(ctx context.Context) (*websocket.Conn, error) {
	target, err := p.outerProvider().CreateWebSocketURL(p.config.ServicesPath)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for k, v := range p.config.Headers {
		headers.Set(k, v)
	}
	if p.config.ProtocolVersion > 0 {
		headers.Set("Protocol-Version", fmt.Sprintf("%d", p.config.ProtocolVersion))
	}

	conn, _, err := p.dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	p.logger.Info("Connected", "host", p.base.Host, "path", p.config.ServicesPath)
	return conn, nil
}

func (p *Provider) flushPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	outer := p.outerProvider()
	for _, req := range pending {
		outer.OpenChannel(req.path, req.handler, req.opts)
	}
}

func (p *Provider) readPump(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-p.closeChan:
		case <-stop:
			return
		}
		conn.Close()
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			p.logger.Debug("Ignoring non-text message", "type", msgType, "size", len(data))
			continue
		}
		p.dispatch(data)
	}
}

func (p *Provider) dispatch(data []byte) {
	f, err := DecodeFrame(data)
	if err != nil {
		p.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	p.mu.Lock()
	ch := p.channels[f.ID]
	p.mu.Unlock()
	if ch == nil {
		p.logger.Debug("Frame for unknown channel", "id", f.ID, "kind", f.Kind)
		return
	}

	switch f.Kind {
	case KindReady:
		ch.ready()
	case KindData:
		if !ch.deliver(f.Content) {
			p.logger.Warn("Channel receive buffer full, dropping message", "id", f.ID)
		}
	case KindClose:
		ch.closedBy(f.Code, f.Reason)
	default:
		p.logger.Debug("Unexpected frame from server", "id", f.ID, "kind", f.Kind)
	}
}

// dropConnection closes every channel of a lost socket; reconnecting
// channels queue up for the next connect.
func (p *Provider) dropConnection(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	conn.Close()

	for _, ch := range p.Channels() {
		ch.(*Channel).closedBy(CloseAbnormal, "connection lost")
	}
}

func (p *Provider) writeFrame(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return interfaces.ErrNotConnected
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(p.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Provider) isClosed() bool {
	select {
	case <-p.closeChan:
		return true
	default:
		return false
	}
}

// Close stops the dial loop and closes the socket.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() { close(p.closeChan) })

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.pending = nil
	p.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
