package domain

// InstrumentSpec holds the per-venue contract parameters needed to size and
// price an order. Specs are fetched once at startup and treated as read-only.
type InstrumentSpec struct {
	ContractSize float64
	// FeePct is the taker fee as a percentage (0.05 means 0.05%).
	FeePct      float64
	MinOrderQty float64
	QtyStep     float64
	SettleCoin  string
	BaseCoin    string
}
