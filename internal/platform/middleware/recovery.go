package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/apperr"
)

// Recovery turns a handler panic into the same 500 body an internal error
// gets, and logs the panic with its stack. http.ErrAbortHandler is passed
// through so net/http can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				perr, ok := r.(error)
				if !ok {
					perr = fmt.Errorf("%v", r)
				}
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Err(perr).
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				err = apperr.ToHTTP(apperr.Internal(errors.Join(errPanic, perr)))
			}()
			return next(c)
		}
	}
}

var errPanic = errors.New("handler panic")
