package ledger

import (
	"time"

	"github.com/ksred/klear-repo/internal/contract"
	"gorm.io/gorm"
)

// ContractRecord is the stored form of a contract. Archiving is a soft
// delete, so default scopes only ever see active contracts.
type ContractRecord struct {
	gorm.Model     `json:"-"`
	ContractID     string `gorm:"uniqueIndex" json:"contract_id"`
	Template       string `gorm:"index" json:"template"`
	Payload        string `json:"payload"` // JSON
	CreatedOffset  int64  `json:"created_offset"`
	ArchivedOffset int64  `json:"archived_offset"`
}

func (ContractRecord) TableName() string { return "contracts" }

// StakeholderRecord grants one party visibility of a contract.
type StakeholderRecord struct {
	ID         uint   `gorm:"primaryKey"`
	ContractID string `gorm:"index"`
	Party      string `gorm:"index"`
}

func (StakeholderRecord) TableName() string { return "contract_stakeholders" }

// TransactionRecord is one accepted batch. Its primary key is the ledger
// offset and CommandID is unique, which rejects resubmission of a batch.
type TransactionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"offset"`
	CommandID  string    `gorm:"uniqueIndex" json:"command_id"`
	WorkflowID string    `json:"workflow_id"`
	Party      string    `gorm:"index" json:"party"`
	Commands   string    `json:"commands"` // JSON array of commands
	Created    int       `json:"created"`
	Archived   int       `json:"archived"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TransactionRecord) TableName() string { return "transactions" }

// Transaction is the outcome of an accepted batch.
type Transaction struct {
	Offset     int64
	CommandID  string
	WorkflowID string
	Created    []contract.Contract
	Archived   []string
}
