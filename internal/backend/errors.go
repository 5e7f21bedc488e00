package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/cutout/internal/core"
	"github.com/labstack/echo/v4"
)

// httpErrorHandler renders every error as core.ErrorResponse.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorResponse(err)
	attrs := []any{
		"status", status,
		"kind", core.KindOf(err).String(),
		"path", c.Request().URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		"error", err,
	}
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		slog.Error("request error", attrs...)
	} else {
		slog.Debug("request error", attrs...)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func errorResponse(err error) (int, core.ErrorResponse) {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return statusOf(coreErr.Kind), core.ErrorResponse{
			Success: false,
			Error:   coreErr.Error(),
			Message: coreErr.Hint,
		}
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, core.ErrorResponse{
			Success: false,
			Error:   fmt.Sprint(httpErr.Message),
		}
	}

	return http.StatusInternalServerError, core.ErrorResponse{
		Success: false,
		Error:   http.StatusText(http.StatusInternalServerError),
	}
}

func statusOf(kind core.Kind) int {
	switch kind {
	case core.KindBadRequest:
		return http.StatusBadRequest
	case core.KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
