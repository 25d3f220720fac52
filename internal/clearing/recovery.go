package clearing

import (
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
)

// downstream templates only exist between netting and settlement.
var downstream = []contract.TemplateID{
	contract.NettingGroupTemplate,
	contract.NetObligationRequestTemplate,
	contract.NetObligationTemplate,
	contract.DvPTemplate,
	contract.CashAllocatedDvPTemplate,
	contract.AllocatedDvPTemplate,
}

// settlementDate returns the settlement date and clearing house of an
// in-flight settlement entity.
func settlementDate(c contract.Contract) (contract.Date, string, error) {
	switch p := c.Payload.(type) {
	case *contract.NovatedTrade:
		return p.Info.SettlementDate, p.CCP, nil
	case *contract.NettingGroup:
		if len(p.Trades) == 0 {
			return contract.Date{}, p.CCP, nil
		}
		return p.Trades[0].Info.SettlementDate, p.CCP, nil
	case *contract.NetObligationRequest:
		return p.SettlementDate, p.CCP, nil
	case *contract.NetObligation:
		return p.SettlementDate, p.CCP, nil
	case *contract.UnallocatedDvP:
		return p.SettlementDate, p.CCP, nil
	case *contract.CashAllocatedDvP:
		return p.SettlementDate, p.CCP, nil
	case *contract.AllocatedDvP:
		return p.SettlementDate, p.CCP, nil
	default:
		return contract.Date{}, "", contract.ErrDecode
	}
}

// inFlight counts the novated legs and downstream entities of the earliest
// in-flight settlement date.
func (e *Engine) inFlight(snap contract.Snapshot) (date contract.Date, novated, later int, found bool, err error) {
	templates := append([]contract.TemplateID{contract.NovatedTradeTemplate}, downstream...)
	for _, t := range templates {
		for _, c := range snap.Contracts(t) {
			d, ccp, err := settlementDate(c)
			if err != nil {
				return contract.Date{}, 0, 0, false, err
			}
			if ccp != e.party || d.IsZero() {
				continue
			}
			if !found || d.Before(date) {
				date, found = d, true
			}
		}
	}
	if !found {
		return date, 0, 0, false, nil
	}

	for _, t := range templates {
		for _, c := range snap.Contracts(t) {
			d, ccp, _ := settlementDate(c)
			if ccp != e.party || d != date {
				continue
			}
			if t == contract.NovatedTradeTemplate {
				novated++
			} else {
				later++
			}
		}
	}
	return date, novated, later, true, nil
}

// recoverCycle rebuilds the cycle of a restarted clearing house from the
// ledger instead of the counters it lost. Before netting, outstanding trades
// for the date are novated again and the expected leg count is derived from
// the novated legs already visible. After netting, the expected DvP count is
// every downstream entity for the date plus those already settled.
func (e *Engine) recoverCycle(snap contract.Snapshot) ([]command.Batch, error) {
	if !e.recover || e.cycle.active {
		return nil, nil
	}
	date, novated, later, found, err := e.inFlight(snap)
	if err != nil || !found {
		return nil, err
	}

	settled, err := e.countSettled(snap, date)
	if err != nil {
		return nil, err
	}

	if novated > 0 {
		trades := e.index.Trades(date)
		batches := make([]command.Batch, 0, len(trades))
		for _, t := range trades {
			b, err := e.exercise(command.WorkflowSettlement, contract.TradeTemplate, t.ID, ledger.ChoiceNovate, nil,
				command.Single(contract.TradeTemplate, t.ID))
			if err != nil {
				return nil, err
			}
			batches = append(batches, b)
		}
		e.cycle = newCycle(date, (novated+1)/2+len(trades), settled)
		e.metrics.ObserveNovations(len(trades))
		e.logger.Warn().
			Str("settlement_date", date.String()).
			Int("novated_trades", novated).
			Int("renovated", len(trades)).
			Msg("recovered settlement cycle awaiting netting")
		return batches, nil
	}

	e.cycle = newCycle(date, 0, 0).withNetting(later + settled)
	e.logger.Warn().
		Str("settlement_date", date.String()).
		Int("in_flight", later).
		Int("settled", settled).
		Msg("recovered settlement cycle after netting")
	return nil, nil
}
