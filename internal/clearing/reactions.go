package clearing

import (
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
)

// cacheRole remembers the clearing house role contract, which netting
// groups are formed on.
func (e *Engine) cacheRole(snap contract.Snapshot) ([]command.Batch, error) {
	if e.roleID != "" && snap.Contains(contract.CCPTemplate, e.roleID) {
		return nil, nil
	}
	for _, c := range snap.Contracts(contract.CCPTemplate) {
		role, err := contract.As[*contract.CCP](c)
		if err != nil {
			return nil, err
		}
		if role.CCP != e.party {
			continue
		}
		e.roleID = c.ID
		e.role = role
		e.joined = true
		e.logger.Info().Str("contract_id", c.ID).Msg("clearing house role confirmed")
		return nil, nil
	}
	return nil, nil
}

func (e *Engine) acceptInvite(snap contract.Snapshot) ([]command.Batch, error) {
	if e.joined {
		return nil, nil
	}
	for _, c := range snap.Contracts(contract.InviteClearingHouseTemplate) {
		inv, err := contract.As[*contract.InviteClearingHouse](c)
		if err != nil {
			return nil, err
		}
		if inv.CCP != e.party {
			continue
		}
		b, err := e.exercise(command.WorkflowOnboarding, c.Template, c.ID, ledger.ChoiceAcceptClearingHouseInvite,
			ledger.AcceptClearingHouseInviteArgs{PaymentProcessor: e.paymentProcessor},
			command.Single(c.Template, c.ID))
		if err != nil {
			return nil, err
		}
		e.joined = true
		e.logger.Info().Str("operator", inv.Operator).Msg("accepting clearing house invitation")
		return []command.Batch{b}, nil
	}
	return nil, nil
}

func (e *Engine) netGroups(snap contract.Snapshot) ([]command.Batch, error) {
	var out []command.Batch
	for _, c := range snap.Contracts(contract.NettingGroupTemplate) {
		g, err := contract.As[*contract.NettingGroup](c)
		if err != nil {
			return nil, err
		}
		if g.CCP != e.party {
			continue
		}
		b, err := e.exercise(command.WorkflowNetting, c.Template, c.ID, ledger.ChoiceNetTrades, nil,
			command.Single(c.Template, c.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// createDvPs turns each confirmed obligation into a DvP. The clearing house
// buys when it is the cash payer and sells otherwise.
func (e *Engine) createDvPs(snap contract.Snapshot) ([]command.Batch, error) {
	if e.role == nil {
		return nil, nil
	}
	var out []command.Batch
	for _, c := range snap.Contracts(contract.NetObligationTemplate) {
		ob, err := contract.As[*contract.NetObligation](c)
		if err != nil {
			return nil, err
		}
		if ob.CCP != e.party {
			continue
		}
		choice := ledger.ChoiceCreateSellDvP
		if ob.Payer == e.party {
			choice = ledger.ChoiceCreateBuyDvP
		}
		b, err := e.exercise(command.WorkflowSettlement, c.Template, c.ID, choice,
			ledger.CreateDvPArgs{PaymentProcessor: e.role.PaymentProcessor},
			command.Single(c.Template, c.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (e *Engine) settleDvPs(snap contract.Snapshot) ([]command.Batch, error) {
	var out []command.Batch
	for _, c := range snap.Contracts(contract.AllocatedDvPTemplate) {
		d, err := contract.As[*contract.AllocatedDvP](c)
		if err != nil {
			return nil, err
		}
		if d.CCP != e.party {
			continue
		}
		b, err := e.exercise(command.WorkflowSettlement, c.Template, c.ID, ledger.ChoiceSettle, nil,
			command.Single(c.Template, c.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
