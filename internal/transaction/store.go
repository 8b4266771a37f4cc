package transaction

import (
	"context"

	"gorm.io/gorm"
)

// ErrNotFound is returned by Find when no row matches. It is the gorm
// sentinel so callers can map both backends the same way.
var ErrNotFound = gorm.ErrRecordNotFound

// Store persists reconciled transactions. Upsert must be a single atomic
// insert-or-replace on (OrderID, TransID).
type Store interface {
	Upsert(ctx context.Context, tx *Transaction) error
	Find(ctx context.Context, orderID, transID string) (*Transaction, error)
	// ForAgreement returns the user's transactions for an agreement, most
	// recently updated first
	ForAgreement(ctx context.Context, steamID, agreementID string) ([]Transaction, error)
}
