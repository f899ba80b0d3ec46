package core

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lisuiheng/wsgate/protocols/electron"
	"github.com/lisuiheng/wsgate/protocols/websocket"
	"github.com/lisuiheng/wsgate/utils"
)

// Config 是客户端配置结构（与YAML文件结构一致）
type Config struct {
	System struct {
		Name string `mapstructure:"name"`

		Network struct {
			Transport string           `mapstructure:"transport"`
			Websocket *WebsocketConfig `mapstructure:"websocket"`
		} `mapstructure:"network"`
	} `mapstructure:"system"`

	Security struct {
		Token electron.TokenSource `mapstructure:"token"`
	} `mapstructure:"security"`

	// Channels are opened once the application has started.
	Channels []string `mapstructure:"channels"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

type WebsocketConfig struct {
	URL               string            `mapstructure:"url"`
	ServicesPath      string            `mapstructure:"services_path"`
	ProtocolVersion   int               `mapstructure:"protocol_version"`
	Headers           map[string]string `mapstructure:"headers"`
	HandshakeTimeout  time.Duration     `mapstructure:"handshake_timeout"`
	WriteTimeout      time.Duration     `mapstructure:"write_timeout"`
	ReconnectDelay    time.Duration     `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration     `mapstructure:"max_reconnect_delay"`
}

// NewConnectionProvider builds the transport named in the config and wraps it
// in the token-gated provider.
func NewConnectionProvider(config Config, tokenRequest *utils.Deferred[electron.SecurityToken], log *slog.Logger) (*electron.Provider, error) {
	switch config.System.Network.Transport {
	case "", "websocket":
		ws := config.System.Network.Websocket
		if ws == nil {
			return nil, fmt.Errorf("%w: system.network.websocket", ErrConfigMissing)
		}

		base, err := websocket.NewProvider(websocket.Config{
			URL:               ws.URL,
			ServicesPath:      ws.ServicesPath,
			ProtocolVersion:   ws.ProtocolVersion,
			Headers:           ws.Headers,
			HandshakeTimeout:  ws.HandshakeTimeout,
			WriteTimeout:      ws.WriteTimeout,
			ReconnectDelay:    ws.ReconnectDelay,
			MaxReconnectDelay: ws.MaxReconnectDelay,
		}, log.With("component", "websocket"))
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket provider: %w", err)
		}
		return electron.NewProvider(base, tokenRequest, log.With("component", "electron"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, config.System.Network.Transport)
	}
}
