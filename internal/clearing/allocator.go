package clearing

import (
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/shopspring/decimal"
)

type holding struct {
	id       string
	security *contract.Security
}

// Allocation names the holdings chosen for one DvP.
type Allocation struct {
	DvPID      string
	Cusip      string
	Quantity   decimal.Decimal
	Securities []string
	Total      decimal.Decimal
}

// match scans the pool in order, accumulating holdings of the DvP's cusip
// until the required quantity is covered. It reports false if the pool
// cannot cover it.
func match(pool []holding, cusip string, required decimal.Decimal) ([]string, decimal.Decimal, bool) {
	var ids []string
	total := decimal.Zero
	for _, h := range pool {
		if total.GreaterThanOrEqual(required) {
			break
		}
		if h.security.Cusip != cusip {
			continue
		}
		ids = append(ids, h.id)
		total = total.Add(h.security.CollateralQuantity)
	}
	return ids, total, total.GreaterThanOrEqual(required)
}

// PlanAllocations picks the DvPs to collateralise this snapshot. In single
// mode at most one DvP is allocated. In per-cusip mode at most one DvP per
// cusip is, and since each cusip draws from its own holdings no holding is
// named twice.
func PlanAllocations(snap contract.Snapshot, owner string, mode AllocationMode) ([]Allocation, error) {
	var pool []holding
	for _, c := range snap.Contracts(contract.SecurityTemplate) {
		s, err := contract.As[*contract.Security](c)
		if err != nil {
			return nil, err
		}
		if s.Owner == owner {
			pool = append(pool, holding{id: c.ID, security: s})
		}
	}

	var plans []Allocation
	used := make(map[string]bool)
	for _, c := range snap.Contracts(contract.CashAllocatedDvPTemplate) {
		d, err := contract.As[*contract.CashAllocatedDvP](c)
		if err != nil {
			return nil, err
		}
		if d.CCP != owner || used[d.Cusip] {
			continue
		}
		ids, total, ok := match(pool, d.Cusip, d.Quantity)
		if !ok {
			continue
		}
		plans = append(plans, Allocation{DvPID: c.ID, Cusip: d.Cusip, Quantity: d.Quantity, Securities: ids, Total: total})
		if mode != AllocatePerCusip {
			break
		}
		used[d.Cusip] = true
	}
	return plans, nil
}

func (e *Engine) allocate(snap contract.Snapshot) ([]command.Batch, error) {
	plans, err := PlanAllocations(snap, e.party, e.mode)
	if err != nil {
		return nil, err
	}

	out := make([]command.Batch, 0, len(plans))
	for _, p := range plans {
		pending := command.Single(contract.CashAllocatedDvPTemplate, p.DvPID).
			Add(contract.SecurityTemplate, p.Securities...)
		b, err := e.exercise(command.WorkflowSettlement, contract.CashAllocatedDvPTemplate, p.DvPID,
			ledger.ChoiceAllocateSecurity, ledger.AllocateSecurityArgs{Securities: p.Securities}, pending)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveAllocation(p.Cusip)
		e.logger.Debug().
			Str("dvp_id", p.DvPID).
			Str("cusip", p.Cusip).
			Str("quantity", p.Quantity.String()).
			Str("allocated", p.Total.String()).
			Int("holdings", len(p.Securities)).
			Msg("allocating collateral")
		out = append(out, b)
	}
	return out, nil
}
