package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lisuiheng/wsgate/pkg/interfaces"
)

// ChannelListener opens a fixed set of channels on start and hands every
// inbound message to OnMessage.
type ChannelListener struct {
	provider  interfaces.ConnectionProvider
	paths     []string
	logger    *slog.Logger
	OnMessage func(path string, msg interfaces.Message)

	mu     sync.Mutex
	opened map[string]int
}

func NewChannelListener(provider interfaces.ConnectionProvider, paths []string, log *slog.Logger) (*ChannelListener, error) {
	if provider == nil {
		return nil, errors.New("connection provider cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	l := &ChannelListener{
		provider: provider,
		paths:    paths,
		logger:   log,
		opened:   make(map[string]int),
	}
	l.OnMessage = func(path string, msg interfaces.Message) {
		l.logger.Info("Channel message", "path", path, "message", string(msg.Payload))
	}
	return l, nil
}

func (l *ChannelListener) OnStart(ctx context.Context) error {
	for _, path := range l.paths {
		l.logger.Info("Opening channel", "path", path)
		l.provider.OpenChannel(path, l.handle, nil)
	}
	return nil
}

// Opened reports how many times the channel on path became ready,
// reconnects included.
func (l *ChannelListener) Opened(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened[path]
}

func (l *ChannelListener) handle(ch interfaces.Channel) {
	l.mu.Lock()
	l.opened[ch.Path()]++
	l.mu.Unlock()
	l.logger.Debug("Channel ready", "id", ch.ID(), "path", ch.Path())

	go func() {
		for msg := range ch.Receive() {
			l.OnMessage(ch.Path(), msg)
		}
		l.logger.Debug("Channel receive loop ended", "id", ch.ID(), "path", ch.Path())
	}()
}
