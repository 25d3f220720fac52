package clearing

import (
	"time"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
)

func (e *Engine) countSettled(snap contract.Snapshot, date contract.Date) (int, error) {
	n := 0
	for _, c := range snap.Contracts(contract.SettledDvPTemplate) {
		d, err := contract.As[*contract.SettledDvP](c)
		if err != nil {
			return 0, err
		}
		if d.CCP == e.party && d.SettlementDate == date {
			n++
		}
	}
	return n, nil
}

// completeCycle ends the cycle once every expected DvP for the date has
// settled. Remaining settlement sentinels are archived and the cycle is
// reset so a new date can be accepted.
func (e *Engine) completeCycle(snap contract.Snapshot) ([]command.Batch, error) {
	if !e.cycle.netting {
		return nil, nil
	}
	settled, err := e.countSettled(snap, e.cycle.date)
	if err != nil {
		return nil, err
	}
	settled -= e.cycle.settledBase
	if settled != e.cycle.dvpCount {
		return nil, nil
	}

	var out []command.Batch
	for _, c := range snap.Contracts(contract.InitiateSettlementControlTemplate) {
		s, err := contract.As[*contract.InitiateSettlementControl](c)
		if err != nil {
			return nil, err
		}
		if s.CCP != e.party {
			continue
		}
		b, err := e.archiveSentinel(c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}

	done := e.cycle
	e.logger.Info().
		Str("settlement_date", done.date.String()).
		Int("trades_novated", done.tradesNovated).
		Int("dvps_settled", settled).
		Int("trades_outstanding", e.index.Total()).
		Dur("duration", time.Since(done.startedAt)).
		Msgf("Settlement complete for %s: %d trades novated, %d DvPs settled, %d trades outstanding",
			done.date, done.tradesNovated, settled, e.index.Total())

	e.cycle = cycle{}
	e.metrics.ObserveCycleCompleted(time.Since(done.startedAt))
	return out, nil
}
