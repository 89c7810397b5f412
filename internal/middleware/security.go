package middleware

import (
	"net/textproto"
	"strings"

	"github.com/labstack/echo/v4"

	"registry-proxy-go/internal/model"
)

// SecurityHeaders returns an Echo middleware that drops connection-scoped
// request headers and sets response hardening headers before the handler runs.
// Handlers stream their bodies, so nothing set after next would reach the client.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqHdr := c.Request().Header
			for _, v := range reqHdr.Values("Connection") {
				for _, name := range strings.Split(v, ",") {
					if name = textproto.TrimString(name); name != "" {
						reqHdr.Del(name)
					}
				}
			}
			for _, h := range model.HopByHopHeaders {
				reqHdr.Del(h)
			}

			resHdr := c.Response().Header()
			resHdr.Set(echo.HeaderXContentTypeOptions, "nosniff")
			resHdr.Set(echo.HeaderXFrameOptions, "DENY")
			resHdr.Set(echo.HeaderReferrerPolicy, "no-referrer")

			return next(c)
		}
	}
}
