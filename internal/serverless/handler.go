// Package serverless adapts the echo API to function runtimes that invoke a
// plain http.HandlerFunc per request.
package serverless

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jo-hoe/cutout/internal/backend"
	"github.com/jo-hoe/cutout/internal/common"
	"github.com/jo-hoe/cutout/internal/core"
	"github.com/labstack/echo/v4"
)

const readinessTimeout = 10 * time.Second

var errMisconfigured = errors.New("service is misconfigured")

var (
	once    sync.Once
	handler http.Handler
)

// ServeHTTP serves a request with the handler built on first use.
// Warm function instances reuse it.
func ServeHTTP(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		handler = NewHandler(ctx)
	})
	handler.ServeHTTP(w, r)
}

// NewHandler builds the API from environment configuration. A configuration
// error yields a handler that answers every request with a processing failure.
func NewHandler(ctx context.Context) http.Handler {
	config, err := core.LoadConfigFromEnvironment()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return unavailableServer()
	}
	common.SetupLogger(config.LogLevel, config.LogFormat)

	coreService, err := core.NewCoreService(ctx, config)
	if err != nil {
		slog.Error("failed to create core service", "error", err)
		return unavailableServer()
	}

	e := backend.NewServer(config)
	backend.NewAPIService(coreService).SetRoutes(e)
	return e
}

func unavailableServer() *echo.Echo {
	e := backend.NewServer(core.DefaultConfig())
	e.Any("/*", func(c echo.Context) error {
		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusNoContent)
		}
		return core.NewProcessingFailedError(errMisconfigured)
	})
	return e
}
