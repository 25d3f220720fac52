package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu        sync.Mutex
	contracts []contract.Contract
	submitted []command.Batch
	rejectAll bool
	updates   chan int64
}

func newFakeLedger(contracts ...contract.Contract) *fakeLedger {
	return &fakeLedger{contracts: contracts, updates: make(chan int64, 1)}
}

func (f *fakeLedger) Snapshot(_ context.Context, _ string, _ []contract.TemplateID) (contract.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return contract.NewSnapshot(int64(len(f.submitted)), append([]contract.Contract(nil), f.contracts...)), nil
}

func (f *fakeLedger) Submit(_ context.Context, b command.Batch) (*ledger.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return nil, ledger.ErrRejected
	}
	f.submitted = append(f.submitted, b)
	return &ledger.Transaction{Offset: int64(len(f.submitted)), CommandID: b.CommandID}, nil
}

func (f *fakeLedger) Subscribe() (<-chan int64, func()) {
	return f.updates, func() {}
}

// archive removes a contract as if an earlier batch had been applied.
func (f *fakeLedger) archive(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.contracts[:0]
	for _, c := range f.contracts {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.contracts = kept
}

func (f *fakeLedger) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// novateAll emits one novation per visible trade, pending the trade id.
type novateAll struct {
	seen [][]string
	err  error
}

func (n *novateAll) Party() string { return "CCP" }
func (n *novateAll) Templates() []contract.TemplateID { return []contract.TemplateID{contract.TradeTemplate} }

func (n *novateAll) Process(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
	if n.err != nil {
		return nil, n.err
	}
	var ids []string
	var out []command.Batch
	for _, c := range snap.Contracts(contract.TradeTemplate) {
		ids = append(ids, c.ID)
		cmd, err := command.Exercise(c.Template, c.ID, ledger.ChoiceNovate, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, command.NewBatch(n.Party(), command.WorkflowSettlement, []command.Command{cmd}, command.Single(c.Template, c.ID)))
	}
	out = append(out, command.NewBatch(n.Party(), command.WorkflowSettlement, nil, nil))
	n.seen = append(n.seen, ids)
	return out, nil
}

func trade(id string) contract.Contract {
	return contract.Contract{ID: id, Template: contract.TradeTemplate, Payload: &contract.Trade{CCP: "CCP"}}
}

func TestPendingContractsAreMaskedUntilConsumed(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger(trade("t1"), trade("t2"))
	reactor := &novateAll{}
	r := NewRunner(l, reactor)

	require.NoError(t, r.cycle(ctx))
	assert.Equal(t, 2, l.submissions(), "empty batches are not submitted")

	// The ledger has not caught up yet: both trades are still visible.
	require.NoError(t, r.cycle(ctx))
	assert.Equal(t, 2, l.submissions())
	assert.Empty(t, reactor.seen[1])

	l.archive("t1")
	require.NoError(t, r.cycle(ctx))
	assert.False(t, r.pending.Contains(contract.TradeTemplate, "t1"), "consumed ids leave the pending set")
	assert.True(t, r.pending.Contains(contract.TradeTemplate, "t2"))
	assert.Equal(t, 2, l.submissions())
}

func TestRejectedBatchReleasesPending(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger(trade("t1"))
	l.rejectAll = true
	reactor := &novateAll{}
	r := NewRunner(l, reactor)

	require.NoError(t, r.cycle(ctx))
	assert.Equal(t, 0, r.pending.Len())

	l.rejectAll = false
	require.NoError(t, r.cycle(ctx))
	assert.Equal(t, []string{"t1"}, reactor.seen[1], "rejected work is re-derived on the next cycle")
	assert.Equal(t, 1, l.submissions())
}

func TestReactorErrorStopsRun(t *testing.T) {
	l := newFakeLedger(trade("t1"))
	reactor := &novateAll{err: contract.ErrDecode}
	r := NewRunner(l, reactor)

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, contract.ErrDecode)

	err = r.Do(context.Background(), func(context.Context, contract.Snapshot) ([]command.Batch, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrStopped)
}

func TestDoRunsInsideLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := newFakeLedger()
	r := NewRunner(l, &novateAll{}, WithPollInterval(time.Hour))
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var observed int
	err := r.Do(ctx, func(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
		observed = snap.Count(contract.TradeTemplate)
		cmd, err := command.Create(contract.Genesis{Operator: "Operator"})
		if err != nil {
			return nil, err
		}
		return []command.Batch{command.NewBatch("CCP", command.WorkflowOnboarding, []command.Command{cmd}, nil)}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, observed)
	assert.Equal(t, 1, l.submissions())

	controlErr := errors.New("bad input")
	err = r.Do(ctx, func(context.Context, contract.Snapshot) ([]command.Batch, error) { return nil, controlErr })
	assert.ErrorIs(t, err, controlErr)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
