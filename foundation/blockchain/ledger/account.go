package ledger

// CoinbaseAddress is the reserved sender address used on the first
// transaction of every non-genesis block. It never holds a balance of its
// own and never appears as a sender in a regular transaction.
const CoinbaseAddress = "COINBASE"

// Account represents the balance and nonce state derived for a single
// address by replaying the chain from genesis.
type Account struct {
	Address string
	Balance float64
	Nonce   uint64
}

// =============================================================================

// byAddress provides deterministic ordering over a set of accounts by
// address.
type byAddress []Account

func (ba byAddress) Len() int           { return len(ba) }
func (ba byAddress) Less(i, j int) bool { return ba[i].Address < ba[j].Address }
func (ba byAddress) Swap(i, j int)      { ba[i], ba[j] = ba[j], ba[i] }
