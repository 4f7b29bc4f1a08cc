// Package status maintains the group of handlers for the node's read-only
// status surface, the one the external dashboard collaborator polls.
package status

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coldiron/chainsim/business/web/errs"
	"github.com/coldiron/chainsim/foundation/blockchain/node"
	"github.com/coldiron/chainsim/foundation/web"
)

// Handlers manages the set of status endpoints.
type Handlers struct {
	Node *node.Node
}

// Status returns the node's current status snapshot.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Status(), http.StatusOK)
}

// Genesis returns the genesis parameters this node's chain was seeded with.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Node.Genesis(), http.StatusOK)
}

// RecentBlocks returns the last n blocks of the canonical chain, oldest
// first. n defaults to the whole chain if absent; a value that is not an
// integer is rejected with 400 Bad Request.
func (h Handlers) RecentBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		n = v
	}

	return web.Respond(ctx, w, h.Node.RecentBlocks(n), http.StatusOK)
}
