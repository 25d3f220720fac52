package migrations

import (
	"github.com/ksred/klear-repo/internal/ledger"
	"gorm.io/gorm"
)

// CreateTransactions creates the accepted-batch journal. The unique command id
// index makes a resubmitted batch fail instead of applying twice.
func CreateTransactions(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.TransactionRecord{}); err != nil {
		return err
	}

	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_workflow
		 ON transactions(workflow_id)`).Error
}
