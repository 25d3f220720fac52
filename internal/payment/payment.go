// Package payment is the payment processor bot. It confirms the clearing
// house it serves and funds the cash leg of every DvP.
package payment

import (
	"context"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Processor struct {
	party  string
	logger zerolog.Logger
}

func NewProcessor(party string) *Processor {
	return &Processor{
		party:  party,
		logger: log.With().Str("component", "payment").Str("party", party).Logger(),
	}
}

func (p *Processor) Party() string {
	return p.party
}

func (p *Processor) Templates() []contract.TemplateID {
	return []contract.TemplateID{contract.CCPInviteTemplate, contract.DvPTemplate}
}

func (p *Processor) Process(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
	var out []command.Batch

	for _, c := range snap.Contracts(contract.CCPInviteTemplate) {
		inv, err := contract.As[*contract.CCPInvite](c)
		if err != nil {
			return nil, err
		}
		if inv.PaymentProcessor != p.party {
			continue
		}
		b, err := p.exercise(command.WorkflowOnboarding, c, ledger.ChoiceConfirmCCP)
		if err != nil {
			return nil, err
		}
		p.logger.Info().Str("ccp", inv.CCP).Msgf("%s confirms CCP %s", p.party, inv.CCP)
		out = append(out, b)
	}

	for _, c := range snap.Contracts(contract.DvPTemplate) {
		d, err := contract.As[*contract.UnallocatedDvP](c)
		if err != nil {
			return nil, err
		}
		if d.PaymentProcessor != p.party {
			continue
		}
		b, err := p.exercise(command.WorkflowSettlement, c, ledger.ChoiceAllocateCash)
		if err != nil {
			return nil, err
		}
		p.logger.Debug().
			Str("dvp_id", c.ID).
			Str("payer", d.Payer).
			Str("amount", d.PaymentAmount.String()).
			Str("currency", d.Currency).
			Msg("allocating cash")
		out = append(out, b)
	}
	return out, nil
}

func (p *Processor) exercise(wf command.Workflow, c contract.Contract, choice string) (command.Batch, error) {
	cmd, err := command.Exercise(c.Template, c.ID, choice, nil)
	if err != nil {
		return command.Batch{}, err
	}
	return command.NewBatch(p.party, wf, []command.Command{cmd}, command.Single(c.Template, c.ID)), nil
}
