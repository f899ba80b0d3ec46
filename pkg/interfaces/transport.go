// pkg/interfaces/transport.go
package interfaces

import (
	"errors"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
	ErrChannelClosed    = errors.New("channel closed")
	ErrInvalidPath      = errors.New("invalid path")
)

// Channel is one logical stream multiplexed over a websocket connection.
type Channel interface {
	ID() int
	Path() string
	Send(content string) error
	Receive() <-chan Message
	// Close is a no-op on an already closed channel.
	Close(code int, reason string) error
	Closed() bool
}

// ChannelHandler is invoked once the remote side has acknowledged the channel.
type ChannelHandler func(ch Channel)

type ChannelOptions struct {
	// Reconnecting reopens the channel after it closes. Defaults to true.
	Reconnecting *bool
}

func (o *ChannelOptions) ShouldReconnect() bool {
	if o == nil || o.Reconnecting == nil {
		return true
	}
	return *o.Reconnecting
}

// ConnectionProvider opens channels and builds the URL the socket dials.
type ConnectionProvider interface {
	OpenChannel(path string, handler ChannelHandler, opts *ChannelOptions)
	CreateWebSocketURL(path string) (string, error)
	Channels() []Channel
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // channel data
	MsgBinary                     // raw bytes
	MsgControl                    // close notifications
)
