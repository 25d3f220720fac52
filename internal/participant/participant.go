// Package participant is the trading participant bot. It joins the market,
// injects the trades it lends, registers the trades it borrows and accepts
// the net obligations the clearing house proposes.
package participant

import (
	"context"
	"errors"
	"sync"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotOnboarded = errors.New("trading participant not onboarded")

type Participant struct {
	party  string
	logger zerolog.Logger

	roleID    string
	ready     chan struct{}
	readyOnce sync.Once
}

func New(party string) *Participant {
	return &Participant{
		party:  party,
		logger: log.With().Str("component", "participant").Str("party", party).Logger(),
		ready:  make(chan struct{}),
	}
}

func (p *Participant) Party() string {
	return p.party
}

func (p *Participant) Templates() []contract.TemplateID {
	return []contract.TemplateID{
		contract.InviteTradingParticipantTemplate,
		contract.TradingParticipantTemplate,
		contract.TradeRegistrationRequestTemplate,
		contract.NetObligationRequestTemplate,
	}
}

// Ready is closed once the participant's role contract is visible. It is
// safe to use from any goroutine.
func (p *Participant) Ready() <-chan struct{} {
	return p.ready
}

func (p *Participant) Onboarded() bool {
	select {
	case <-p.ready:
		return true
	default:
		return false
	}
}

func (p *Participant) Process(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
	steps := []func(contract.Snapshot) ([]command.Batch, error){
		p.acceptInvite,
		p.cacheRole,
		p.registerTrades,
		p.acceptObligations,
	}
	var out []command.Batch
	for _, step := range steps {
		batches, err := step(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, batches...)
	}
	return out, nil
}

// RequestTrade builds the request for one injected trade. Call it from the
// bot loop.
func (p *Participant) RequestTrade(req TradeRequest) (command.Batch, error) {
	if p.roleID == "" {
		return command.Batch{}, ErrNotOnboarded
	}
	cmd, err := command.Exercise(contract.TradingParticipantTemplate, p.roleID, ledger.ChoiceRequestTrade,
		ledger.RequestTradeArgs{Counterparty: req.Borrower, Info: req.Info})
	if err != nil {
		return command.Batch{}, err
	}
	return command.NewBatch(p.party, command.WorkflowTradeInjection, []command.Command{cmd}, nil), nil
}

func (p *Participant) exercise(wf command.Workflow, c contract.Contract, choice string) (command.Batch, error) {
	cmd, err := command.Exercise(c.Template, c.ID, choice, nil)
	if err != nil {
		return command.Batch{}, err
	}
	return command.NewBatch(p.party, wf, []command.Command{cmd}, command.Single(c.Template, c.ID)), nil
}

func (p *Participant) acceptInvite(snap contract.Snapshot) ([]command.Batch, error) {
	var out []command.Batch
	for _, c := range snap.Contracts(contract.InviteTradingParticipantTemplate) {
		inv, err := contract.As[*contract.InviteTradingParticipant](c)
		if err != nil {
			return nil, err
		}
		if inv.Participant != p.party {
			continue
		}
		b, err := p.exercise(command.WorkflowOnboarding, c, ledger.ChoiceAcceptTradingInvite)
		if err != nil {
			return nil, err
		}
		p.logger.Info().Str("ccp", inv.CCP).Msgf("%s accepts invitation as trading participant", p.party)
		out = append(out, b)
	}
	return out, nil
}

func (p *Participant) cacheRole(snap contract.Snapshot) ([]command.Batch, error) {
	if p.roleID != "" {
		return nil, nil
	}
	for _, c := range snap.Contracts(contract.TradingParticipantTemplate) {
		role, err := contract.As[*contract.TradingParticipant](c)
		if err != nil {
			return nil, err
		}
		if role.Participant != p.party {
			continue
		}
		p.roleID = c.ID
		p.readyOnce.Do(func() { close(p.ready) })
		p.logger.Info().Str("contract_id", c.ID).Msg("trading participant onboarded")
		break
	}
	return nil, nil
}

// registerTrades accepts registration requests addressed to this party once
// it is onboarded.
func (p *Participant) registerTrades(snap contract.Snapshot) ([]command.Batch, error) {
	if p.roleID == "" {
		return nil, nil
	}
	var out []command.Batch
	for _, c := range snap.Contracts(contract.TradeRegistrationRequestTemplate) {
		req, err := contract.As[*contract.TradeRegistrationRequest](c)
		if err != nil {
			return nil, err
		}
		if req.Counterparty != p.party {
			continue
		}
		b, err := p.exercise(command.WorkflowTradeInjection, c, ledger.ChoiceRegisterTrade)
		if err != nil {
			return nil, err
		}
		p.logger.Info().
			Int64("trade_id", req.Info.TradeID).
			Str("lender", req.Requester).
			Msgf("accepting tradeId %d, lender=%s", req.Info.TradeID, req.Requester)
		out = append(out, b)
	}
	return out, nil
}

func (p *Participant) acceptObligations(snap contract.Snapshot) ([]command.Batch, error) {
	var out []command.Batch
	for _, c := range snap.Contracts(contract.NetObligationRequestTemplate) {
		req, err := contract.As[*contract.NetObligationRequest](c)
		if err != nil {
			return nil, err
		}
		if req.ParticipantID != p.party {
			continue
		}
		b, err := p.exercise(command.WorkflowNetting, c, ledger.ChoiceAcceptNetObligation)
		if err != nil {
			return nil, err
		}
		p.logger.Debug().
			Str("contract_id", c.ID).
			Bool("is_buy", req.IsBuy).
			Str("cusip", req.Cusip).
			Str("payment_amount", req.PaymentAmount.String()).
			Str("quantity", req.Quantity.String()).
			Msg("accepting net obligation")
		out = append(out, b)
	}
	return out, nil
}
