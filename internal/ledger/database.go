package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ksred/klear-repo/internal/contract"
	"gorm.io/gorm"
)

// Database wraps the gorm handle. Every method runs against whatever handle
// it was built from, so a Database built inside a transaction is bound to it.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn against a Database bound to a single DB transaction.
func (d *Database) Transaction(fn func(tx *Database) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

// Offset returns the offset of the latest accepted transaction.
func (d *Database) Offset() (int64, error) {
	var offset int64
	if err := d.db.Model(&TransactionRecord{}).Select("COALESCE(MAX(id), 0)").Scan(&offset).Error; err != nil {
		return 0, fmt.Errorf("failed to read ledger offset: %w", err)
	}
	return offset, nil
}

// VisibleContracts returns the active contracts of the given templates that
// party is a stakeholder of, in creation order. An empty template list
// matches every template.
func (d *Database) VisibleContracts(party string, templates []contract.TemplateID) ([]ContractRecord, error) {
	q := d.db.Model(&ContractRecord{}).
		Joins("JOIN contract_stakeholders ON contract_stakeholders.contract_id = contracts.contract_id").
		Where("contract_stakeholders.party = ?", party)
	if len(templates) > 0 {
		names := make([]string, len(templates))
		for i, t := range templates {
			names[i] = string(t)
		}
		q = q.Where("contracts.template IN ?", names)
	}

	var records []ContractRecord
	if err := q.Order("contracts.id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch contracts for %s: %w", party, err)
	}
	return records, nil
}

// GetActiveContract returns nil when the contract is unknown or archived.
func (d *Database) GetActiveContract(contractID string) (*ContractRecord, error) {
	var record ContractRecord
	if err := d.db.Where("contract_id = ?", contractID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch contract %s: %w", contractID, err)
	}
	return &record, nil
}

func (d *Database) IsStakeholder(contractID, party string) (bool, error) {
	var n int64
	if err := d.db.Model(&StakeholderRecord{}).
		Where("contract_id = ? AND party = ?", contractID, party).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check stakeholders of %s: %w", contractID, err)
	}
	return n > 0, nil
}

// CreateContract stores a contract and its stakeholders.
func (d *Database) CreateContract(record *ContractRecord, stakeholders []string) error {
	if err := d.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to create contract: %w", err)
	}
	seen := make(map[string]bool, len(stakeholders))
	rows := make([]StakeholderRecord, 0, len(stakeholders))
	for _, party := range stakeholders {
		party = strings.TrimSpace(party)
		if party == "" || seen[party] {
			continue
		}
		seen[party] = true
		rows = append(rows, StakeholderRecord{ContractID: record.ContractID, Party: party})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := d.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create stakeholders: %w", err)
	}
	return nil
}

// ArchiveContract soft-deletes an active contract. It reports false when the
// contract was already archived.
func (d *Database) ArchiveContract(contractID string, offset int64) (bool, error) {
	if err := d.db.Model(&ContractRecord{}).
		Where("contract_id = ?", contractID).
		Update("archived_offset", offset).Error; err != nil {
		return false, fmt.Errorf("failed to archive contract %s: %w", contractID, err)
	}
	res := d.db.Where("contract_id = ?", contractID).Delete(&ContractRecord{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to archive contract %s: %w", contractID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (d *Database) CommandExists(commandID string) (bool, error) {
	var n int64
	if err := d.db.Model(&TransactionRecord{}).Where("command_id = ?", commandID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check command %s: %w", commandID, err)
	}
	return n > 0, nil
}

func (d *Database) CreateTransaction(record *TransactionRecord) error {
	return d.db.Create(record).Error
}

func (d *Database) UpdateTransaction(record *TransactionRecord) error {
	return d.db.Save(record).Error
}

// GetTransactions returns accepted transactions after the given offset.
func (d *Database) GetTransactions(after int64, limit int) ([]TransactionRecord, error) {
	var records []TransactionRecord
	if err := d.db.Where("id > ?", after).Order("id").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	return records, nil
}
