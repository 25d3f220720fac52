package migrations

import (
	"github.com/ksred/klear-repo/internal/ledger"
	"gorm.io/gorm"
)

// CreateContracts creates the contract and stakeholder tables and the indexes
// snapshot queries rely on.
func CreateContracts(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.ContractRecord{}, &ledger.StakeholderRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Visibility join
		`CREATE INDEX IF NOT EXISTS idx_contract_stakeholders_party_contract
		 ON contract_stakeholders(party, contract_id)`,

		// Active contracts of a template in creation order
		`CREATE INDEX IF NOT EXISTS idx_contracts_template_active
		 ON contracts(template, deleted_at, id)`,

		`CREATE INDEX IF NOT EXISTS idx_contracts_created_offset
		 ON contracts(created_offset)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
