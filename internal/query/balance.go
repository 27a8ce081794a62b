package query

import "ammsim/internal/ledger"

// BalanceResponse is one projected account balance.
//
// Projections are built from journals only, so they hold net flows since
// genesis: seed reserves and starting inventory are not included.
type BalanceResponse struct {
	AccountPath  string  `json:"account_path"`
	Asset        string  `json:"asset"`
	Balance      float64 `json:"balance"`
	LastSequence int64   `json:"last_sequence"`

	// Last sequence the projection worker applied.
	AsOfSequence int64 `json:"as_of_sequence"`
}

// HolderPrefix returns the account path prefix for every asset of a holder,
// e.g. "pool:mango-usdc:" or "npc:Ana:".
func HolderPrefix(scope ledger.AccountScope, entityID string) string {
	return scope.String() + ":" + entityID + ":"
}
