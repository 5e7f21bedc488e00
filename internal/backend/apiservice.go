package backend

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/cutout/internal/core"
	"github.com/jo-hoe/cutout/internal/metrics"
	"github.com/labstack/echo/v4"
)

const (
	RemoveBackgroundPath = "/api/remove_bg"
	ImagesToGLBPath      = "/api/images_to_glb"
	healthPath           = "/health"
	metricsPath          = "/metrics"

	healthMessage = "Background removal server is running"
)

type APIService struct {
	coreService *core.CoreService
}

func NewAPIService(coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
	}
}

// SetRoutes registers the public API served locally and by the serverless functions.
func (s *APIService) SetRoutes(e *echo.Echo) {
	e.POST(RemoveBackgroundPath, s.removeBackgroundHandler)
	e.OPTIONS(RemoveBackgroundPath, preflightHandler)

	e.POST(ImagesToGLBPath, s.imagesToGLBHandler)
	e.OPTIONS(ImagesToGLBPath, preflightHandler)
}

// SetProbeRoutes registers health and metrics endpoints of the local server.
func (s *APIService) SetProbeRoutes(e *echo.Echo) {
	e.GET(healthPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, core.HealthResponse{
			Status:  "ok",
			Message: healthMessage,
		})
	})
	e.GET(metricsPath, echo.WrapHandler(metrics.Handler()))
}

func preflightHandler(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func (s *APIService) removeBackgroundHandler(c echo.Context) error {
	var req core.RemoveBackgroundRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	resp, err := s.coreService.RemoveBackground(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *APIService) imagesToGLBHandler(c echo.Context) error {
	// the body is only informational until the conversion exists
	var req core.ConversionRequest
	if err := decodeJSONBody(c, &req); err != nil {
		slog.Debug("ignoring unparsable conversion request", "error", err)
	}
	return s.coreService.ConvertImagesToGLB(c.Request().Context(), &req)
}

// decodeJSONBody decodes the request body regardless of its content type.
// An empty body leaves v untouched.
func decodeJSONBody(c echo.Context, v any) error {
	err := json.NewDecoder(c.Request().Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return core.NewBadRequestError("Invalid JSON in request body", err)
}
