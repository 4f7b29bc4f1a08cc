// Package checkgrp maintains the readiness and liveness handlers exposed on
// the debug mux.
package checkgrp

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"go.uber.org/zap"
)

// Handlers manages the set of check endpoints.
type Handlers struct {
	Build string
	Log   *zap.SugaredLogger
	Node  *node.Node
}

// Readiness reports whether this node's orchestrator is UP and ready to
// serve gossip traffic.
func (h Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if h.Node.State() != node.Up {
		status = http.StatusServiceUnavailable
	}

	data := struct {
		Status string `json:"status"`
	}{
		Status: h.Node.State().String(),
	}

	if err := response(w, status, data); err != nil {
		h.Log.Errorw("readiness", "ERROR", err)
	}
}

// Liveness reports this process is alive. It never fails on its own;
// os.Getpid and the hostname are included for operator convenience when
// several nodes share a log stream.
func (h Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()

	data := struct {
		Status    string `json:"status"`
		Build     string `json:"build"`
		Host      string `json:"host"`
		Pod       string `json:"pod"`
		PID       int    `json:"pid"`
	}{
		Status: "up",
		Build:  h.Build,
		Host:   host,
		Pod:    os.Getenv("POD_NAME"),
		PID:    os.Getpid(),
	}

	if err := response(w, http.StatusOK, data); err != nil {
		h.Log.Errorw("liveness", "ERROR", err)
	}
}

func response(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}
