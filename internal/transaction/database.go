package transaction

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/steam-billing-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

var _ Store = (*Database)(nil)

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Upsert inserts the row or replaces every column of the existing
// (order_id, trans_id) row except its id and created_at
func (d *Database) Upsert(ctx context.Context, tx *Transaction) error {
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "trans_id"}},
			UpdateAll: true,
		}).
		Create(tx).Error
	if err != nil {
		return fmt.Errorf("%w: upsert transaction %s/%s: %v", types.ErrPersistence, tx.OrderID, tx.TransID, err)
	}
	return nil
}

func (d *Database) Find(ctx context.Context, orderID, transID string) (*Transaction, error) {
	var tx Transaction
	err := d.db.WithContext(ctx).
		Where("order_id = ? AND trans_id = ?", orderID, transID).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find transaction: %v", types.ErrPersistence, err)
	}
	return &tx, nil
}

func (d *Database) ForAgreement(ctx context.Context, steamID, agreementID string) ([]Transaction, error) {
	var txs []Transaction
	err := d.db.WithContext(ctx).
		Where("steam_id = ? AND agreement_id = ?", steamID, agreementID).
		Order("time_updated DESC").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: load agreement transactions: %v", types.ErrPersistence, err)
	}
	return txs, nil
}
