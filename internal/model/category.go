package model

// PurchaseCategory is an owner-scoped category label. Categories are
// referenced by the pipeline but never created or mutated by it.
type PurchaseCategory struct {
	ID    string
	Owner string
	Name  string
}
