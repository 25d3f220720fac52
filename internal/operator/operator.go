// Package operator is the market operator bot. It bootstraps the market,
// invites the clearing house and trading participants, issues the clearing
// house's collateral holdings and raises settlement requests.
package operator

import (
	"context"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Holding is a collateral position issued to the clearing house.
type Holding struct {
	Cusip    string
	Quantity decimal.Decimal
}

type Config struct {
	Party        string
	CCP          string
	Participants []string
	Holdings     []Holding
}

type Operator struct {
	party        string
	ccp          string
	participants []string
	holdings     []Holding
	logger       zerolog.Logger

	genesisRequested    bool
	ccpInvited          bool
	participantsInvited bool
	holdingsIssued      bool
}

func New(cfg Config) *Operator {
	return &Operator{
		party:        cfg.Party,
		ccp:          cfg.CCP,
		participants: cfg.Participants,
		holdings:     cfg.Holdings,
		logger:       log.With().Str("component", "operator").Str("party", cfg.Party).Logger(),
	}
}

func (o *Operator) Party() string {
	return o.party
}

func (o *Operator) Templates() []contract.TemplateID {
	return []contract.TemplateID{
		contract.GenesisTemplate,
		contract.InviteClearingHouseTemplate,
		contract.CCPInviteTemplate,
		contract.CCPTemplate,
		contract.InviteTradingParticipantTemplate,
		contract.TradingParticipantTemplate,
		contract.SecurityTemplate,
	}
}

func (o *Operator) Process(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
	steps := []func(contract.Snapshot) ([]command.Batch, error){
		o.createGenesis,
		o.inviteCCP,
		o.inviteParticipants,
		o.issueHoldings,
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

// InitiateSettlement builds the sentinel asking the clearing house to
// settle date.
func (o *Operator) InitiateSettlement(date contract.Date) (command.Batch, error) {
	cmd, err := command.Create(contract.InitiateSettlementControl{Operator: o.party, CCP: o.ccp, SettlementDate: date})
	if err != nil {
		return command.Batch{}, err
	}
	return command.NewBatch(o.party, command.WorkflowSettlement, []command.Command{cmd}, nil), nil
}

func (o *Operator) createGenesis(snap contract.Snapshot) ([]command.Batch, error) {
	if o.genesisRequested {
		return nil, nil
	}
	for _, c := range snap.Contracts(contract.GenesisTemplate) {
		g, err := contract.As[*contract.Genesis](c)
		if err != nil {
			return nil, err
		}
		if g.Operator == o.party {
			o.genesisRequested = true
			return nil, nil
		}
	}
	cmd, err := command.Create(contract.Genesis{Operator: o.party})
	if err != nil {
		return nil, err
	}
	o.genesisRequested = true
	o.logger.Info().Msg("creating market genesis")
	return []command.Batch{command.NewBatch(o.party, command.WorkflowOnboarding, []command.Command{cmd}, nil)}, nil
}

// inviteCCP invites the clearing house once, unless an invitation or the
// role itself is already on the ledger.
func (o *Operator) inviteCCP(snap contract.Snapshot) ([]command.Batch, error) {
	if o.ccpInvited {
		return nil, nil
	}
	for _, t := range []contract.TemplateID{contract.InviteClearingHouseTemplate, contract.CCPInviteTemplate, contract.CCPTemplate} {
		if snap.Count(t) > 0 {
			o.ccpInvited = true
			return nil, nil
		}
	}
	for _, c := range snap.Contracts(contract.GenesisTemplate) {
		b, err := o.exercise(c, ledger.ChoiceInviteCCP, ledger.InviteCCPArgs{CCP: o.ccp})
		if err != nil {
			return nil, err
		}
		o.ccpInvited = true
		o.logger.Info().Str("ccp", o.ccp).Msgf("Inviting CCP: %s", o.ccp)
		return []command.Batch{b}, nil
	}
	return nil, nil
}

// inviteParticipants invites, on the first clearing house role seen, every
// configured participant not already invited or onboarded.
func (o *Operator) inviteParticipants(snap contract.Snapshot) ([]command.Batch, error) {
	if o.participantsInvited {
		return nil, nil
	}
	roles := snap.Contracts(contract.CCPTemplate)
	if len(roles) == 0 {
		return nil, nil
	}
	o.participantsInvited = true

	known := make(map[string]bool)
	for _, c := range snap.Contracts(contract.InviteTradingParticipantTemplate) {
		inv, err := contract.As[*contract.InviteTradingParticipant](c)
		if err != nil {
			return nil, err
		}
		known[inv.Participant] = true
	}
	for _, c := range snap.Contracts(contract.TradingParticipantTemplate) {
		tp, err := contract.As[*contract.TradingParticipant](c)
		if err != nil {
			return nil, err
		}
		known[tp.Participant] = true
	}

	var parties []string
	for _, p := range o.participants {
		if !known[p] {
			parties = append(parties, p)
		}
	}
	if len(parties) == 0 {
		return nil, nil
	}

	b, err := o.exercise(roles[0], ledger.ChoiceInviteTradingParticipants, ledger.InviteTradingParticipantsArgs{Parties: parties})
	if err != nil {
		return nil, err
	}
	o.logger.Info().Strs("parties", parties).Msgf("Invite trading parties: %v", parties)
	return []command.Batch{b}, nil
}

// issueHoldings gives the clearing house its collateral once its role is
// confirmed. Holdings already issued by this operator are not issued again.
func (o *Operator) issueHoldings(snap contract.Snapshot) ([]command.Batch, error) {
	if o.holdingsIssued || len(o.holdings) == 0 || snap.Count(contract.CCPTemplate) == 0 {
		return nil, nil
	}
	o.holdingsIssued = true
	for _, c := range snap.Contracts(contract.SecurityTemplate) {
		s, err := contract.As[*contract.Security](c)
		if err != nil {
			return nil, err
		}
		if s.Issuer == o.party {
			return nil, nil
		}
	}

	cmds := make([]command.Command, 0, len(o.holdings))
	for _, h := range o.holdings {
		cmd, err := command.Create(contract.Security{Issuer: o.party, Owner: o.ccp, Cusip: h.Cusip, CollateralQuantity: h.Quantity})
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
		o.logger.Info().Str("cusip", h.Cusip).Str("quantity", h.Quantity.String()).Msg("issuing holding to clearing house")
	}
	return []command.Batch{command.NewBatch(o.party, command.WorkflowOnboarding, cmds, nil)}, nil
}

func (o *Operator) exercise(c contract.Contract, choice string, args any) (command.Batch, error) {
	cmd, err := command.Exercise(c.Template, c.ID, choice, args)
	if err != nil {
		return command.Batch{}, err
	}
	return command.NewBatch(o.party, command.WorkflowOnboarding, []command.Command{cmd}, nil), nil
}
