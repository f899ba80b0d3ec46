package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lisuiheng/wsgate/logger"
	"github.com/lisuiheng/wsgate/protocols/electron"
	"github.com/lisuiheng/wsgate/utils"
)

func TestNewConnectionProvider(t *testing.T) {
	token := utils.NewDeferred[electron.SecurityToken]()
	token.Resolve(electron.SecurityToken{Value: "abc123"})

	t.Run("unsupported transport", func(t *testing.T) {
		cfg := Config{}
		cfg.System.Network.Transport = "mqtt"
		_, err := NewConnectionProvider(cfg, token, logger.Discard())
		assert.ErrorIs(t, err, ErrUnsupportedProtocol)
	})

	t.Run("missing websocket config", func(t *testing.T) {
		cfg := Config{}
		_, err := NewConnectionProvider(cfg, token, logger.Discard())
		assert.ErrorIs(t, err, ErrConfigMissing)
	})

	t.Run("invalid url", func(t *testing.T) {
		cfg := Config{}
		cfg.System.Network.Websocket = &WebsocketConfig{URL: "ftp://localhost"}
		_, err := NewConnectionProvider(cfg, token, logger.Discard())
		assert.Error(t, err)
	})

	t.Run("token decorated url", func(t *testing.T) {
		cfg := Config{}
		cfg.System.Network.Transport = "websocket"
		cfg.System.Network.Websocket = &WebsocketConfig{URL: "https://example.com"}
		p, err := NewConnectionProvider(cfg, token, logger.Discard())
		require.NoError(t, err)

		got, err := p.CreateWebSocketURL("/services/foo?x=1")
		require.NoError(t, err)
		assert.Equal(t, "wss://example.com/services/foo?x=1&"+electron.SecurityTokenField+"=abc123", got)
	})
}
