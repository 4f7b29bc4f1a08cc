package status

import (
	"net/http"

	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/web"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Node *node.Node
}

// Routes binds all the version 1 status routes.
func Routes(app *web.App, cfg Config) {
	hdl := Handlers{Node: cfg.Node}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/status", hdl.Status)
	app.Handle(http.MethodGet, version, "/genesis", hdl.Genesis)
	app.Handle(http.MethodGet, version, "/blocks/recent", hdl.RecentBlocks)
}
