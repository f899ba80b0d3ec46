package electron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lisuiheng/wsgate/utils"
)

// SecurityTokenField is the query parameter carrying the token on every
// connection URL.
const SecurityTokenField = "x-wsgate-electron-security-token"

var ErrTokenUnavailable = errors.New("security token unavailable")

type SecurityToken struct {
	Value string
}

// NewSecurityToken issues a fresh random token for a session.
func NewSecurityToken() SecurityToken {
	return SecurityToken{Value: uuid.NewString()}
}

// TokenSource says where the session token is read from. The first
// non-empty of Value, Env and File wins.
type TokenSource struct {
	Value string `mapstructure:"value"`
	Env   string `mapstructure:"env"`
	File  string `mapstructure:"file"`
}

// RequestToken resolves the returned handle in the background. The handle is
// rejected when no token can be read or ctx ends first.
func RequestToken(ctx context.Context, src TokenSource, log *slog.Logger) *utils.Deferred[SecurityToken] {
	request := utils.NewDeferred[SecurityToken]()
	go func() {
		token, err := readToken(ctx, src)
		if err != nil {
			log.Error("Failed to acquire security token", "error", err)
			request.Reject(err)
			return
		}
		log.Debug("Security token acquired")
		request.Resolve(token)
	}()
	return request
}

func readToken(ctx context.Context, src TokenSource) (SecurityToken, error) {
	if err := ctx.Err(); err != nil {
		return SecurityToken{}, err
	}
	if src.Value != "" {
		return SecurityToken{Value: src.Value}, nil
	}
	if src.Env != "" {
		if v := os.Getenv(src.Env); v != "" {
			return SecurityToken{Value: v}, nil
		}
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return SecurityToken{}, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return SecurityToken{Value: v}, nil
		}
	}
	return SecurityToken{}, ErrTokenUnavailable
}
