package mid

import (
	"context"
	"net/http"

	"github.com/coldiron/chainsim/business/web/errs"
	"github.com/coldiron/chainsim/foundation/web"
	"go.uber.org/zap"
)

// Errors translates any error a handler returns into a JSON error response
// and logs it, following the teacher's separation of "handlers return
// errors" from "one place decides what they look like on the wire."
func Errors(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, getErr := web.GetValues(ctx)
			if getErr != nil {
				return web.NewShutdownError("web value missing from context")
			}

			if err := handler(ctx, w, r); err != nil {
				log.Errorw("ERROR", "traceid", v.TraceID, "error", err)

				resp := errs.Response{Error: http.StatusText(http.StatusInternalServerError)}
				status := http.StatusInternalServerError

				if trusted := errs.GetTrusted(err); trusted != nil {
					resp = errs.Response{Error: trusted.Error()}
					status = trusted.Status
				}

				if respondErr := web.Respond(ctx, w, resp, status); respondErr != nil {
					return respondErr
				}

				if web.IsShutdown(err) {
					return err
				}
			}

			return nil
		}

		return h
	}

	return m
}
