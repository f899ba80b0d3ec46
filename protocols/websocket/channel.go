package websocket

import (
	"errors"
	"sync"

	"github.com/lisuiheng/wsgate/pkg/interfaces"
)

var _ interfaces.Channel = (*Channel)(nil)

// CloseAbnormal is reported to channels that lose their underlying socket.
const CloseAbnormal = 1006

type Channel struct {
	id       int
	path     string
	provider *Provider
	handler  interfaces.ChannelHandler
	opts     *interfaces.ChannelOptions

	mu      sync.Mutex
	opened  bool
	closed  bool
	msgChan chan interfaces.Message
}

func newChannel(id int, path string, p *Provider, handler interfaces.ChannelHandler, opts *interfaces.ChannelOptions) *Channel {
	return &Channel{
		id:       id,
		path:     path,
		provider: p,
		handler:  handler,
		opts:     opts,
		msgChan:  make(chan interfaces.Message, 100),
	}
}

func (c *Channel) ID() int      { return c.id }
func (c *Channel) Path() string { return c.path }

func (c *Channel) Receive() <-chan interfaces.Message {
	return c.msgChan
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Send(content string) error {
	if c.Closed() {
		return interfaces.ErrChannelClosed
	}
	return c.provider.writeFrame(Frame{Kind: KindData, ID: c.id, Content: content})
}

// Close notifies the remote side and removes the channel from its provider.
func (c *Channel) Close(code int, reason string) error {
	if !c.markClosed() {
		return nil
	}
	err := c.provider.writeFrame(Frame{Kind: KindClose, ID: c.id, Code: code, Reason: reason})
	c.provider.channelClosed(c, code, reason)
	if errors.Is(err, interfaces.ErrNotConnected) {
		return nil
	}
	return err
}

func (c *Channel) open() error {
	return c.provider.writeFrame(Frame{Kind: KindOpen, ID: c.id, Path: c.path})
}

// ready runs the handler once the remote side acknowledged the open request.
func (c *Channel) ready() {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return
	}
	c.opened = true
	c.mu.Unlock()

	if c.handler != nil {
		c.handler(c)
	}
}

func (c *Channel) deliver(content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.msgChan <- interfaces.Message{Payload: []byte(content), Type: interfaces.MsgText}:
		return true
	default:
		return false
	}
}

// closedBy handles a close that did not originate from this side.
func (c *Channel) closedBy(code int, reason string) {
	if !c.markClosed() {
		return
	}
	c.provider.channelClosed(c, code, reason)
}

func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.msgChan)
	return true
}
