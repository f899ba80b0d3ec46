package electron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lisuiheng/wsgate/pkg/interfaces"
	"github.com/lisuiheng/wsgate/utils"
)

var _ interfaces.ConnectionProvider = (*Provider)(nil)

const (
	// CloseNormal is sent instead of 1001 ("going away"): the channel peer
	// treats 1001 as an abnormal closure.
	CloseNormal = 1000
	// StopReason is the close reason sent to every channel on shutdown.
	StopReason = `The frontend is "going away"...`
)

// Base is the connection provider the gate decorates.
type Base interface {
	interfaces.ConnectionProvider
	SetOuter(outer interfaces.ConnectionProvider)
	Run(ctx context.Context) error
	Close() error
}

// Provider gates a base provider on the session security token and stops
// channel (re)opening once the application is stopping.
type Provider struct {
	base         Base
	tokenRequest *utils.Deferred[SecurityToken]
	logger       *slog.Logger

	stopping atomic.Bool

	runMu     sync.Mutex
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

func NewProvider(base Base, tokenRequest *utils.Deferred[SecurityToken], log *slog.Logger) (*Provider, error) {
	if base == nil {
		return nil, errors.New("base provider cannot be nil")
	}
	if tokenRequest == nil {
		return nil, errors.New("token request cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}

	p := &Provider{
		base:         base,
		tokenRequest: tokenRequest,
		logger:       log,
	}
	base.SetOuter(p)
	return p, nil
}

// Configure blocks until the security token is available. No timeout is
// applied here; ctx belongs to the caller.
func (p *Provider) Configure(ctx context.Context) error {
	p.logger.Debug("Waiting for security token")
	if _, err := p.tokenRequest.Wait(ctx); err != nil {
		return fmt.Errorf("failed to await security token: %w", err)
	}
	p.logger.Info("Security token available")
	return nil
}

// OnStart starts the base provider's connection loop. The loop outlives ctx
// and ends in OnStop, after the channels have been closed.
func (p *Provider) OnStart(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.runDone != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancelRun = cancel
	p.runDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := p.base.Run(runCtx); err != nil {
			p.logger.Error("Connection loop failed", "error", err)
		}
	}(p.runDone)
	return nil
}

// OnStop stops channel (re)opening, then closes every registered channel.
func (p *Provider) OnStop() {
	p.stopping.Store(true)

	// Snapshot first: closing a channel removes it from the registry.
	for _, ch := range p.base.Channels() {
		if err := ch.Close(CloseNormal, StopReason); err != nil {
			p.logger.Warn("Failed to close channel", "id", ch.ID(), "path", ch.Path(), "error", err)
		}
	}

	p.shutdown()
}

func (p *Provider) shutdown() {
	p.runMu.Lock()
	cancel, done := p.cancelRun, p.runDone
	p.runMu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	if err := p.base.Close(); err != nil {
		p.logger.Debug("Base provider close", "error", err)
	}
	<-done
}

// Stopping reports whether OnStop has been called.
func (p *Provider) Stopping() bool {
	return p.stopping.Load()
}

// OpenChannel silently drops the request once the provider is stopping.
func (p *Provider) OpenChannel(path string, handler interfaces.ChannelHandler, opts *interfaces.ChannelOptions) {
	if p.stopping.Load() {
		p.logger.Debug("Ignoring channel open while stopping", "path", path)
		return
	}
	p.base.OpenChannel(path, handler, opts)
}

func (p *Provider) Channels() []interfaces.Channel {
	return p.base.Channels()
}

// CreateWebSocketURL appends the security token to the query of path and
// hands the result to the base provider. Panics if Configure has not
// completed.
func (p *Provider) CreateWebSocketURL(path string) (string, error) {
	token := p.tokenRequest.MustValue()

	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidPath, err)
	}

	var query []string
	if u.RawQuery != "" {
		query = strings.Split(u.RawQuery, "&")
	}
	query = append(query, encodeComponent(SecurityTokenField)+"="+encodeComponent(token.Value))
	u.RawQuery = strings.Join(query, "&")

	return p.base.CreateWebSocketURL(u.String())
}

// encodeComponent percent-encodes s for a query component, spaces as %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
