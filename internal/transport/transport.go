// Package transport picks which server exposes the speech endpoints.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/fallback"
	"github.com/ent0n29/voiced/internal/voice"
)

const (
	ModeAuto       = "auto"
	ModeConcurrent = "concurrent"
	ModeFallback   = "fallback"
)

// ErrUnavailable reports a transport that was not compiled into this binary.
var ErrUnavailable = errors.New("transport not available in this build")

// Server serves the speech endpoints until ctx is canceled.
type Server interface {
	Name() string
	Serve(ctx context.Context, addr string) error
}

type Options struct {
	AllowAnyOrigin  bool
	STTRateLimit    int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

type Deps struct {
	Service *voice.Service
	Logger  *zap.Logger
	Options Options
}

// Select resolves mode to a server. auto prefers the concurrent transport and falls back to the
// raw TCP one when the concurrent transport was left out of the build.
func Select(mode string, deps Deps) (Server, error) {
	if deps.Service == nil {
		return nil, errors.New("transport: nil voice service")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeConcurrent:
		srv, err := newConcurrent(deps)
		if err != nil {
			return nil, fmt.Errorf("transport %q: %w", ModeConcurrent, err)
		}
		return srv, nil
	case ModeFallback:
		return newFallback(deps), nil
	case "", ModeAuto:
		srv, err := newConcurrent(deps)
		if err == nil {
			return srv, nil
		}
		deps.Logger.Info("concurrent transport unavailable, using fallback", zap.Error(err))
		return newFallback(deps), nil
	default:
		return nil, fmt.Errorf("invalid transport mode %q (expected auto|concurrent|fallback)", mode)
	}
}

func newFallback(deps Deps) Server {
	return fallback.New(fallback.Config{MaxBodyBytes: deps.Options.MaxBodyBytes}, deps.Service, deps.Logger)
}
