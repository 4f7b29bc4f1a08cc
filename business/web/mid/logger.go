package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/coldiron/chainsim/foundation/web"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger assigns every request a trace id and logs its start/completion,
// storing the web.Values a handler and the Errors middleware both read.
func Logger(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v := web.Values{
				TraceID: uuid.NewString(),
				Now:     time.Now(),
			}
			ctx = web.SetValues(ctx, &v)

			log.Infow("request started", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr)

			err := handler(ctx, w, r)

			log.Infow("request completed", "traceid", v.TraceID, "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr, "statuscode", v.StatusCode, "since", time.Since(v.Now))

			return err
		}

		return h
	}

	return m
}
