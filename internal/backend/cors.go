package backend

import (
	"strings"

	"github.com/labstack/echo/v4"
)

var allowedMethods = strings.Join([]string{"POST", "OPTIONS"}, ", ")

// corsHeaders adds the CORS headers to every response, including errors.
// echo's CORS middleware only sets the allowed methods and headers on
// preflight responses.
func corsHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		h.Set(echo.HeaderAccessControlAllowMethods, allowedMethods)
		h.Set(echo.HeaderAccessControlAllowHeaders, echo.HeaderContentType)
		return next(c)
	}
}
