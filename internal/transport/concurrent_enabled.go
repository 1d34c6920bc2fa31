//go:build !minimal

package transport

import "github.com/ent0n29/voiced/internal/httpapi"

// ConcurrentAvailable reports whether the websocket transport is compiled in.
const ConcurrentAvailable = true

func newConcurrent(deps Deps) (Server, error) {
	return httpapi.New(httpapi.Config{
		AllowAnyOrigin:  deps.Options.AllowAnyOrigin,
		STTRateLimit:    deps.Options.STTRateLimit,
		MaxBodyBytes:    deps.Options.MaxBodyBytes,
		ShutdownTimeout: deps.Options.ShutdownTimeout,
	}, deps.Service, deps.Logger), nil
}
