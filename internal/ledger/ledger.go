// Package ledger is the shared append-only store of contracts. Contracts are
// created and archived only by atomic batches of choices, and each party sees
// only the contracts it is a stakeholder of.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrRejected wraps every business rejection of a batch. Storage failures
	// are returned unwrapped.
	ErrRejected         = errors.New("batch rejected")
	ErrContractNotFound = errors.New("contract not found")
	ErrNotStakeholder   = errors.New("submitter is not a stakeholder")
	ErrUnknownChoice    = errors.New("unknown choice")
	ErrInvalidArgument  = errors.New("invalid choice argument")
	ErrDuplicateCommand = errors.New("duplicate command id")
	ErrEmptyBatch       = errors.New("empty batch")
)

func reject(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrRejected, err, fmt.Sprintf(format, args...))
}

// Ledger executes batches against the store and fans out change
// notifications to in-process subscribers.
type Ledger struct {
	db     *Database
	logger zerolog.Logger

	// Submissions are serialised so offsets are handed out in commit order.
	submitMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan int64
	nextSub int
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{
		db:     NewDatabase(db),
		logger: log.With().Str("component", "ledger").Logger(),
		subs:   make(map[int]chan int64),
	}
}

// Snapshot reads the active contracts visible to party, filtered to the
// given templates. A stored payload that fails to decode is returned as an
// error wrapping contract.ErrDecode.
func (l *Ledger) Snapshot(ctx context.Context, party string, templates []contract.TemplateID) (contract.Snapshot, error) {
	var (
		offset  int64
		records []ContractRecord
	)
	err := l.db.withContext(ctx).Transaction(func(tx *Database) error {
		var err error
		if offset, err = tx.Offset(); err != nil {
			return err
		}
		records, err = tx.VisibleContracts(party, templates)
		return err
	})
	if err != nil {
		return contract.Snapshot{}, err
	}

	contracts := make([]contract.Contract, 0, len(records))
	for _, r := range records {
		c, err := contract.Decode(r.ContractID, contract.TemplateID(r.Template), []byte(r.Payload))
		if err != nil {
			return contract.Snapshot{}, err
		}
		contracts = append(contracts, c)
	}
	return contract.NewSnapshot(offset, contracts), nil
}

// Submit executes every command of the batch in one transaction. Either all
// commands take effect or none do.
func (l *Ledger) Submit(ctx context.Context, batch command.Batch) (*Transaction, error) {
	if batch.Empty() {
		return nil, reject(ErrEmptyBatch, "batch %s", batch.CommandID)
	}
	if batch.CommandID == "" || batch.Party == "" {
		return nil, reject(ErrInvalidArgument, "batch needs a command id and a party")
	}

	logger := l.logger.With().
		Str("command_id", batch.CommandID).
		Str("workflow_id", batch.WorkflowID).
		Str("party", batch.Party).
		Logger()

	cmdsJSON, err := json.Marshal(batch.Commands)
	if err != nil {
		return nil, fmt.Errorf("failed to encode commands: %w", err)
	}

	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	var result *Transaction
	err = l.db.withContext(ctx).Transaction(func(tx *Database) error {
		exists, err := tx.CommandExists(batch.CommandID)
		if err != nil {
			return err
		}
		if exists {
			return reject(ErrDuplicateCommand, "%s", batch.CommandID)
		}

		record := &TransactionRecord{
			CommandID:  batch.CommandID,
			WorkflowID: batch.WorkflowID,
			Party:      batch.Party,
			Commands:   string(cmdsJSON),
			CreatedAt:  time.Now(),
		}
		if err := tx.CreateTransaction(record); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		x := &txn{db: tx, party: batch.Party, offset: int64(record.ID)}
		for i, cmd := range batch.Commands {
			if err := x.execute(cmd); err != nil {
				return fmt.Errorf("command %d (%s): %w", i, cmd, err)
			}
		}

		record.Created = len(x.created)
		record.Archived = len(x.archived)
		if err := tx.UpdateTransaction(record); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		result = &Transaction{
			Offset:     x.offset,
			CommandID:  batch.CommandID,
			WorkflowID: batch.WorkflowID,
			Created:    x.created,
			Archived:   x.archived,
		}
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Msg("batch not accepted")
		return nil, err
	}

	logger.Debug().
		Int64("offset", result.Offset).
		Int("created", len(result.Created)).
		Int("archived", len(result.Archived)).
		Msg("batch accepted")

	l.notify(result.Offset)
	return result, nil
}

// Subscribe returns a channel that receives the latest offset after each
// accepted batch. Notifications coalesce: a slow reader sees only that
// something changed. The returned func unsubscribes.
func (l *Ledger) Subscribe() (<-chan int64, func()) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan int64, 1)
	l.subs[id] = ch

	return ch, func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

func (l *Ledger) notify(offset int64) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for _, ch := range l.subs {
		select {
		case ch <- offset:
		default:
			// Reader has a wake-up queued already; replace it with the newer offset.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- offset:
			default:
			}
		}
	}
}

// Offset returns the offset of the latest accepted transaction.
func (l *Ledger) Offset(ctx context.Context) (int64, error) {
	return l.db.withContext(ctx).Offset()
}

// Transactions lists accepted batches after an offset, oldest first.
func (l *Ledger) Transactions(ctx context.Context, after int64, limit int) ([]TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.db.withContext(ctx).GetTransactions(after, limit)
}

func (d *Database) withContext(ctx context.Context) *Database {
	return &Database{db: d.db.WithContext(ctx)}
}

// txn carries the state of one batch while its commands execute.
type txn struct {
	db       *Database
	party    string
	offset   int64
	created  []contract.Contract
	archived []string
}

func (x *txn) execute(cmd command.Command) error {
	switch cmd.Kind {
	case command.KindCreate:
		return x.executeCreate(cmd)
	case command.KindExercise:
		return x.executeExercise(cmd)
	default:
		return reject(ErrInvalidArgument, "unknown command kind %q", cmd.Kind)
	}
}

func (x *txn) executeCreate(cmd command.Command) error {
	c, err := contract.Decode("", cmd.Template, cmd.Arguments)
	if err != nil {
		return reject(ErrInvalidArgument, "%v", err)
	}
	if !contains(c.Payload.Stakeholders(), x.party) {
		return reject(ErrNotStakeholder, "%s may not create %s", x.party, cmd.Template)
	}
	_, err = x.create(c.Payload)
	return err
}

func (x *txn) executeExercise(cmd command.Command) error {
	ch, ok := choices[cmd.Template][cmd.Choice]
	if !ok {
		return reject(ErrUnknownChoice, "%s on %s", cmd.Choice, cmd.Template)
	}

	c, err := x.fetch(cmd.Template, cmd.ContractID)
	if err != nil {
		return err
	}
	visible, err := x.db.IsStakeholder(c.ID, x.party)
	if err != nil {
		return err
	}
	if !visible {
		return reject(ErrNotStakeholder, "%s on %s %s", x.party, cmd.Template, cmd.ContractID)
	}

	if ch.consuming {
		if err := x.archive(c.ID); err != nil {
			return err
		}
	}
	return ch.run(x, c, cmd.Arguments)
}

// fetch loads an active contract and checks it is of the expected template.
func (x *txn) fetch(t contract.TemplateID, id string) (contract.Contract, error) {
	record, err := x.db.GetActiveContract(id)
	if err != nil {
		return contract.Contract{}, err
	}
	if record == nil || contract.TemplateID(record.Template) != t {
		return contract.Contract{}, reject(ErrContractNotFound, "%s %s", t, id)
	}
	return contract.Decode(record.ContractID, t, []byte(record.Payload))
}

func (x *txn) archive(id string) error {
	ok, err := x.db.ArchiveContract(id, x.offset)
	if err != nil {
		return err
	}
	if !ok {
		return reject(ErrContractNotFound, "%s already archived", id)
	}
	x.archived = append(x.archived, id)
	return nil
}

func (x *txn) create(p contract.Payload) (string, error) {
	data, err := contract.Encode(p)
	if err != nil {
		return "", reject(ErrInvalidArgument, "%v", err)
	}
	record := &ContractRecord{
		ContractID:    uuid.New().String(),
		Template:      string(p.Template()),
		Payload:       string(data),
		CreatedOffset: x.offset,
	}
	if err := x.db.CreateContract(record, p.Stakeholders()); err != nil {
		return "", err
	}
	c, err := contract.Decode(record.ContractID, p.Template(), data)
	if err != nil {
		return "", err
	}
	x.created = append(x.created, c)
	return record.ContractID, nil
}

func contains(parties []string, party string) bool {
	for _, p := range parties {
		if p == party {
			return true
		}
	}
	return false
}
