package mid

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coldiron/chainsim/foundation/web"
)

// Panics recovers any panic inside the handler chain and turns it into an
// error the Errors middleware can report, so one bad request cannot take
// down the node's status server.
func Panics() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("PANIC: %v", rec)
				}
			}()

			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
