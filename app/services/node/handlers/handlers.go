// Package handlers manages the node's HTTP surfaces: the versioned status
// API external tooling polls, and a debug mux for process introspection.
package handlers

import (
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/coldiron/chainsim/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/coldiron/chainsim/app/services/node/handlers/v1"
	"github.com/coldiron/chainsim/business/web/mid"
	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	Node     *node.Node
}

// StatusMux constructs an http.Handler serving the node's read-only status
// API: GET /v1/status, GET /v1/genesis, GET /v1/blocks/recent.
//
// The teacher additionally runs mid.Metrics() in this chain; that
// middleware's implementation is absent from the retrieval pack (referenced
// by the teacher's own handlers.go but never defined anywhere in it), and no
// other example repo carries a metrics middleware to substitute, so it is
// dropped here rather than stubbed.
func StatusMux(cfg MuxConfig) http.Handler {
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors("*"),
		mid.Panics(),
	)

	v1.Routes(app, v1.Config{Node: cfg.Node})

	return app
}

// DebugStandardLibraryMux registers all the debug routes from the standard
// library into a new mux bypassing the use of the DefaultServeMux. Using
// the DefaultServeMux would be a security risk since a dependency could
// inject a handler into our service without us knowing it.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}

// DebugMux registers the standard library debug routes plus this service's
// own readiness/liveness checks.
func DebugMux(build string, log *zap.SugaredLogger, n *node.Node) http.Handler {
	mux := DebugStandardLibraryMux()

	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		Node:  n,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}
