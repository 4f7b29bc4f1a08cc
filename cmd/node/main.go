// This program starts a chainsim node or provisions the key material one
// needs, mirroring the wallet CLI's cobra layout at app/wallet/cmd.
package main

import "github.com/coldiron/chainsim/cmd/node/cmd"

func main() {
	cmd.Execute()
}
