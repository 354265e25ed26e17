package reconcile

import (
	"github.com/geniass/supermarket-prices/pkg/product"
)

// Ledger is a product's append-only price history.
type Ledger []product.DatedPrice

// Extend returns the ledger with obs appended. The receiver's backing array
// is never written to, so stored records that share it are unaffected.
func (l Ledger) Extend(obs product.DatedPrice) Ledger {
	out := make(Ledger, len(l), len(l)+1)
	copy(out, l)
	return append(out, obs)
}

func (l Ledger) Last() (product.DatedPrice, bool) {
	if len(l) == 0 {
		return product.DatedPrice{}, false
	}
	return l[len(l)-1], true
}
