package clearing

import (
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
)

// NettingGroups partitions novated trades by domain key. Groups and their
// members follow first-seen snapshot order.
func NettingGroups(novated []contract.Contract) ([][]string, error) {
	var groups [][]string
	index := make(map[contract.DomainKey]int)
	for _, c := range novated {
		nt, err := contract.As[*contract.NovatedTrade](c)
		if err != nil {
			return nil, err
		}
		key := nt.DomainKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c.ID)
	}
	return groups, nil
}

// formNettingGroups fires once per cycle, when every novation issued this
// cycle has produced both of its legs.
func (e *Engine) formNettingGroups(snap contract.Snapshot) ([]command.Batch, error) {
	if e.cycle.netting || e.roleID == "" {
		return nil, nil
	}

	novated := make([]contract.Contract, 0, snap.Count(contract.NovatedTradeTemplate))
	for _, c := range snap.Contracts(contract.NovatedTradeTemplate) {
		nt, err := contract.As[*contract.NovatedTrade](c)
		if err != nil {
			return nil, err
		}
		if nt.CCP == e.party {
			novated = append(novated, c)
		}
	}

	n := len(novated)
	if n == 0 || n != 2*e.cycle.tradesNovated {
		if n > 0 {
			e.logger.Debug().
				Int("novated_trades", n).
				Int("expected", 2*e.cycle.tradesNovated).
				Msg("waiting for novations")
		}
		return nil, nil
	}

	groups, err := NettingGroups(novated)
	if err != nil {
		return nil, err
	}

	pending := command.PendingSet{}
	for _, c := range novated {
		pending.Add(contract.NovatedTradeTemplate, c.ID)
	}
	b, err := e.exercise(command.WorkflowNetting, contract.CCPTemplate, e.roleID, ledger.ChoiceFormNettingGroups,
		ledger.FormNettingGroupsArgs{Groups: groups}, pending)
	if err != nil {
		return nil, err
	}

	e.cycle = e.cycle.withNetting(len(groups))
	e.metrics.ObserveNettingGroups(len(groups))
	e.logger.Info().
		Str("settlement_date", e.cycle.date.String()).
		Int("novated_trades", n).
		Int("netting_groups", len(groups)).
		Msgf("%d novated trades received, forming %d netting groups", n, len(groups))
	return []command.Batch{b}, nil
}
