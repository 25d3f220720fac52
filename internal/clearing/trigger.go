package clearing

import (
	"errors"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
)

var (
	ErrNothingToSettle      = errors.New("no outstanding trades for settlement date")
	ErrSettlementInProgress = errors.New("settlement already in progress")
)

// StartSettlement starts a cycle for date and returns one novation per
// outstanding trade. Each novation pends its trade until the ledger
// consumes it.
func (e *Engine) StartSettlement(snap contract.Snapshot, date contract.Date) ([]command.Batch, error) {
	if e.cycle.active {
		return nil, ErrSettlementInProgress
	}
	idx, err := BuildTradeIndex(snap, e.party)
	if err != nil {
		return nil, err
	}
	e.index = idx
	return e.startSettlement(snap, date)
}

func (e *Engine) startSettlement(snap contract.Snapshot, date contract.Date) ([]command.Batch, error) {
	if e.cycle.active {
		return nil, ErrSettlementInProgress
	}
	trades := e.index.Trades(date)
	if len(trades) == 0 {
		return nil, ErrNothingToSettle
	}

	settled, err := e.countSettled(snap, date)
	if err != nil {
		return nil, err
	}

	batches := make([]command.Batch, 0, len(trades))
	for _, t := range trades {
		b, err := e.exercise(command.WorkflowSettlement, contract.TradeTemplate, t.ID, ledger.ChoiceNovate, nil,
			command.Single(contract.TradeTemplate, t.ID))
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	e.cycle = newCycle(date, len(trades), settled)
	e.metrics.ObserveCycleStarted()
	e.metrics.ObserveNovations(len(trades))
	e.logger.Info().
		Str("settlement_date", date.String()).
		Int("trades", len(trades)).
		Msgf("Starting settlement for %s, novating %d trades", date, len(trades))
	return batches, nil
}

// triggerFromSentinel starts a cycle from an initiate-settlement sentinel.
// A sentinel whose date has nothing to settle is archived instead.
func (e *Engine) triggerFromSentinel(snap contract.Snapshot) ([]command.Batch, error) {
	if e.cycle.active {
		return nil, nil
	}
	for _, c := range snap.Contracts(contract.InitiateSettlementControlTemplate) {
		s, err := contract.As[*contract.InitiateSettlementControl](c)
		if err != nil {
			return nil, err
		}
		if s.CCP != e.party {
			continue
		}

		batches, err := e.startSettlement(snap, s.SettlementDate)
		switch {
		case errors.Is(err, ErrNothingToSettle):
			e.logger.Info().
				Str("settlement_date", s.SettlementDate.String()).
				Msg("nothing to settle, archiving settlement request")
			b, err := e.archiveSentinel(c.ID)
			if err != nil {
				return nil, err
			}
			return []command.Batch{b}, nil
		case err != nil:
			return nil, err
		default:
			return batches, nil
		}
	}
	return nil, nil
}

func (e *Engine) archiveSentinel(id string) (command.Batch, error) {
	return e.exercise(command.WorkflowSettlement, contract.InitiateSettlementControlTemplate, id,
		ledger.ChoiceArchiveInitiateSettlementControl, nil,
		command.Single(contract.InitiateSettlementControlTemplate, id))
}
