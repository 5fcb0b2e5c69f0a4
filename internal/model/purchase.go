package model

import "time"

// Purchase represents a single purchase line from the accounting ledger.
// The pipeline reads name, identifiers and timestamps, and writes only the
// category assignment; everything else is owned by the ledger.
type Purchase struct {
	Date       time.Time
	UpdatedOn  time.Time
	ID         string
	Owner      string
	Name       string
	ReceiptID  string
	CategoryID string
	Currency   string
	Amount     float64
	Quantity   float64
}

// AssignCategory sets the purchase's category in memory. Persisting the
// assignment is the caller's responsibility.
func (p *Purchase) AssignCategory(c PurchaseCategory) {
	p.CategoryID = c.ID
}

// Categorized reports whether the purchase has a category assigned.
func (p *Purchase) Categorized() bool {
	return p.CategoryID != ""
}
