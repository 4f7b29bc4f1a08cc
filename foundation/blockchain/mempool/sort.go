package mempool

import "sort"

// byNonceFeeArrival orders take() candidates primarily by nonce ascending,
// secondarily by fee descending, tertiarily by arrival order ascending —
// the three-key ordering the spec's take() operation names explicitly.
type byNonceFeeArrival []entry

func (b byNonceFeeArrival) Len() int { return len(b) }

func (b byNonceFeeArrival) Less(i, j int) bool {
	if b[i].tx.Nonce != b[j].tx.Nonce {
		return b[i].tx.Nonce < b[j].tx.Nonce
	}
	if b[i].tx.Fee != b[j].tx.Fee {
		return b[i].tx.Fee > b[j].tx.Fee
	}
	return b[i].seq < b[j].seq
}

func (b byNonceFeeArrival) Swap(i, j int) { b[i], b[j] = b[j], b[i] }

func sortByNonceFeeArrival(entries []entry) {
	sort.Sort(byNonceFeeArrival(entries))
}
