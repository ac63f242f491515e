package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// RecoverOptions configures the Recover middleware.
type RecoverOptions struct {
	Logger *zap.Logger
	// OnPanic writes the response after a recovered panic. It defaults to a plain 500.
	OnPanic func(w http.ResponseWriter, r *http.Request, recovered any)
}

// Recover turns handler panics into a 500 response. A panic after the response
// has started is logged only. http.ErrAbortHandler is re-panicked.
func Recover(options *RecoverOptions) func(http.Handler) http.Handler {
	if options == nil {
		options = &RecoverOptions{}
	}
	if options.Logger == nil {
		options.Logger = defaultLogger
	}
	if options.OnPanic == nil {
		options.OnPanic = func(w http.ResponseWriter, _ *http.Request, _ any) {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewResponseRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				options.Logger.Error("panic recovered",
					zap.String("method", r.Method),
					zap.String("url", r.URL.String()),
					zap.String("panic", fmt.Sprint(v)),
					zap.ByteString("stack", debug.Stack()),
				)
				if !rec.WroteHeader() {
					options.OnPanic(rec, r, v)
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
