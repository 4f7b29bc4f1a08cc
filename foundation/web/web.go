// Package web provides a thin wrapper around httptreemux giving every
// handler a context-aware signature and a shared middleware chain, in the
// idiom this repo's business/web/mid package already assumes exists.
package web

import (
	"context"
	"net/http"
	"os"
	"syscall"

	"github.com/dimfeld/httptreemux/v5"
)

// Handler is the signature every application handler implements: it reads
// whatever it needs from ctx/r and writes its own response via Respond,
// returning an error for the middleware chain to translate into a response.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// Middleware wraps a Handler with cross-cutting behavior (logging, CORS,
// panic recovery, error translation) and returns a new Handler.
type Middleware func(Handler) Handler

// App is a thin wrapper around httptreemux.ContextMux carrying the
// middleware chain applied to every route and a channel used to request a
// graceful process shutdown when a handler returns a shutdown error.
type App struct {
	mux      *httptreemux.ContextMux
	shutdown chan os.Signal
	mw       []Middleware
}

// NewApp constructs an App. mw is applied to every handler registered via
// Handle, outermost first.
func NewApp(shutdown chan os.Signal, mw ...Middleware) *App {
	return &App{
		mux:      httptreemux.NewContextMux(),
		shutdown: shutdown,
		mw:       mw,
	}
}

// SignalShutdown sends a signal requesting the application shut down
// gracefully, for use by a handler or middleware that detects an
// unrecoverable condition (mirrors the teacher's shutdown-error path).
func (a *App) SignalShutdown() {
	a.shutdown <- syscall.SIGTERM
}

// Handle registers handler for method/path, wrapping it first with any
// route-specific middleware (innermost) and then the App's own chain
// (outermost).
func (a *App) Handle(method, group, path string, handler Handler, mw ...Middleware) {
	handler = wrapMiddleware(mw, handler)
	handler = wrapMiddleware(a.mw, handler)

	h := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {
			if IsShutdown(err) {
				a.SignalShutdown()
			}
			return
		}
	}

	finalPath := path
	if group != "" {
		finalPath = "/" + group + path
	}

	a.mux.Handle(method, finalPath, h)
}

// ServeHTTP satisfies http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Param returns the value of a named URL parameter, or "" if absent.
func Param(r *http.Request, name string) string {
	return httptreemux.ContextParams(r.Context())[name]
}

func wrapMiddleware(mw []Middleware, handler Handler) Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		if mw[i] != nil {
			handler = mw[i](handler)
		}
	}
	return handler
}
