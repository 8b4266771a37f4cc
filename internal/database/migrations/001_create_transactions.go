package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/steam-billing-api/internal/transaction"
)

// CreateTransactions creates the reconciled transaction table and the
// indexes used by reporting queries
func CreateTransactions(db *gorm.DB) error {
	if err := db.AutoMigrate(&transaction.Transaction{}); err != nil {
		return err
	}

	// Raw SQL for indexes the model tags don't describe
	indexes := []struct {
		name string
		sql  string
	}{
		// status filtering for refund and chargeback reports
		{"idx_transactions_status", `CREATE INDEX idx_transactions_status ON transactions(status)`},

		// renewals due
		{"idx_transactions_next_payment", `CREATE INDEX idx_transactions_next_payment ON transactions(next_payment)`},

		// per-user history
		{"idx_transactions_steam_time", `CREATE INDEX idx_transactions_steam_time ON transactions(steam_id, time_updated)`},
	}

	// MySQL has no CREATE INDEX IF NOT EXISTS
	for _, idx := range indexes {
		if db.Migrator().HasIndex(&transaction.Transaction{}, idx.name) {
			continue
		}
		if err := db.Exec(idx.sql).Error; err != nil {
			return err
		}
	}

	return nil
}
