// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"github.com/coldiron/chainsim/app/services/node/handlers/v1/status"
	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/web"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Node *node.Node
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	status.Routes(app, status.Config{Node: cfg.Node})
}
