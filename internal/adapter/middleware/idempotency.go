package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	ctxIdempotencyKey = "idempotency_key"
	ctxBodySHA256     = "body_sha256"

	// MaxBodyBytes caps the request body buffered for hashing.
	MaxBodyBytes int64 = 1 << 20
)

// IdempotencyKey validates the Idempotency-Key header on mutating requests and
// exposes it to handlers through KeyFrom. With required set, a missing key is
// rejected with 400. Replay itself happens in the engine, keyed per operation.
func IdempotencyKey(required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !mutating(req.Method) {
				return next(c)
			}

			key := strings.TrimSpace(req.Header.Get(HeaderIdempotencyKey))
			switch {
			case key == "" && required:
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing Idempotency-Key"})
			case key != "" && !validKey(key):
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid Idempotency-Key format"})
			}

			var body []byte
			if req.Body != nil {
				var err error
				body, err = io.ReadAll(http.MaxBytesReader(c.Response(), req.Body, MaxBodyBytes))
				if err != nil {
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
					}
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
				}
			}
			req.Body = io.NopCloser(bytes.NewBuffer(body))

			c.Set(ctxIdempotencyKey, key)
			c.Set(ctxBodySHA256, bodyHash(body))
			return next(c)
		}
	}
}

// KeyFrom returns the validated idempotency key, or "" when none was sent.
func KeyFrom(c echo.Context) string {
	if v, ok := c.Get(ctxIdempotencyKey).(string); ok {
		return v
	}
	return strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
}
