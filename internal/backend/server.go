package backend

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jo-hoe/cutout/internal/common"
	"github.com/jo-hoe/cutout/internal/core"
	"github.com/jo-hoe/cutout/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer creates the echo instance with the middleware stack shared by
// the local server and the serverless functions. Routes are added by APIService.
func NewServer(config *core.ServiceConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httpErrorHandler
	e.Validator = &common.GenericEchoValidator{}

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(corsHeaders)

	// Configure request logger to skip the health probe
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == healthPath
		},
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogError:     true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogRoutePath: true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			metrics.RecordHTTPRequest(routeLabel(v.RoutePath), v.Method, strconv.Itoa(v.Status),
				float64(v.Latency)/float64(time.Millisecond))

			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"route", v.RoutePath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
				"remote_ip", v.RemoteIP,
				"user_agent", v.UserAgent,
			}
			if v.Error != nil {
				slog.Info("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Info("request completed", attrs...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			slog.Error("panic recovered",
				"error", err,
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"stack", string(stack))
			return err
		},
	}))
	e.Use(middleware.BodyLimit(strconv.FormatInt(config.MaxPayloadBytes, 10) + "B"))

	return e
}

// routeLabel keeps the metric cardinality bounded for unmatched paths.
func routeLabel(routePath string) string {
	if routePath == "" || routePath == "/*" {
		return "unmatched"
	}
	return routePath
}
