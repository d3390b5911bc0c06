package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bluebutton/bfd/internal/platform/fhir"
)

// RequestTimeout sets a deadline on each request context. If the handler
// has not finished when the deadline passes, a 504 with an OperationOutcome
// is returned. Requests matched by skip run without a deadline.
//
// Once the deadline passes the handler gets timeoutGrace to notice the
// cancelled context and finish on its own before the 504 is written for it.
func RequestTimeout(timeout time.Duration, skip ...func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, s := range skip {
				if s != nil && s(c) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return timeoutResult(c, err)
			case <-ctx.Done():
			}

			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				// Client went away.
				return ctx.Err()
			}
			select {
			case err := <-done:
				return timeoutResult(c, err)
			case <-time.After(timeoutGrace):
				return gatewayTimeoutError(c)
			}
		}
	}
}

const timeoutGrace = 50 * time.Millisecond

// timeoutResult turns a bare deadline error from the handler into the 504
// response.
func timeoutResult(c echo.Context, err error) error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return gatewayTimeoutError(c)
	}
	return err
}

func gatewayTimeoutError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout,
		fhir.TimeoutOutcome("Request processing exceeded the allowed time limit"))
}
