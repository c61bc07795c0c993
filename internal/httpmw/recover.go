package httpmw

import (
	"fmt"
	"net/http"

	"github.com/Tener/ggp-aps/internal/log"
	"github.com/Tener/ggp-aps/internal/xerrors"
)

// Recover turns a handler panic into a 500 and an error log. onPanic, when
// set, is called once per recovered panic (the panic counter in main).
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				var err error
				switch x := v.(type) {
				case error:
					err = xerrors.Wrap(x, "panic")
				default:
					err = xerrors.Newf("panic: %v", x)
				}

				ctx := r.Context()
				L := log.FromContextOr(ctx, logger).With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				L.Error(ctx, err, "httpserver panic recovered", "panic", fmt.Sprint(v))

				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
