// Package clearing is the clearing house's settlement orchestration. On each
// snapshot it novates trades for the active settlement date, forms netting
// groups once every novation has landed, drives obligations through DvP
// construction, allocates collateral and detects completion.
package clearing

import (
	"context"
	"fmt"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AllocationMode bounds how many DvPs the allocator collateralises per
// snapshot.
type AllocationMode string

const (
	// AllocateSingle allocates at most one DvP per snapshot.
	AllocateSingle   AllocationMode = "single"
	// AllocatePerCusip allocates at most one DvP per cusip per snapshot.
	AllocatePerCusip AllocationMode = "per_cusip"
)

func ParseAllocationMode(s string) (AllocationMode, error) {
	switch AllocationMode(s) {
	case "", AllocateSingle:
		return AllocateSingle, nil
	case AllocatePerCusip:
		return AllocatePerCusip, nil
	default:
		return "", fmt.Errorf("unknown allocation mode %q", s)
	}
}

type Config struct {
	Party            string
	PaymentProcessor string
	AllocationMode   AllocationMode

	// Recover re-derives an interrupted cycle from the snapshot when the
	// engine starts idle with settlement entities in flight.
	Recover bool
}

// Engine is the clearing house reactor. It is not safe for concurrent use;
// the bot loop owns it and control surfaces reach it through Runner.Do.
type Engine struct {
	party            string
	paymentProcessor string
	mode             AllocationMode
	recover          bool
	metrics          *Metrics
	logger           zerolog.Logger

	cycle  cycle
	index  TradeIndex
	roleID string
	role   *contract.CCP
	joined bool
}

func NewEngine(cfg Config, metrics *Metrics) *Engine {
	mode := cfg.AllocationMode
	if mode == "" {
		mode = AllocateSingle
	}
	return &Engine{
		party:            cfg.Party,
		paymentProcessor: cfg.PaymentProcessor,
		mode:             mode,
		recover:          cfg.Recover,
		metrics:          metrics,
		logger:           log.With().Str("component", "clearing").Str("party", cfg.Party).Logger(),
	}
}

func (e *Engine) Party() string {
	return e.party
}

func (e *Engine) Templates() []contract.TemplateID {
	return []contract.TemplateID{
		contract.InviteClearingHouseTemplate,
		contract.CCPTemplate,
		contract.InitiateSettlementControlTemplate,
		contract.TradeTemplate,
		contract.NovatedTradeTemplate,
		contract.NettingGroupTemplate,
		contract.NetObligationRequestTemplate,
		contract.NetObligationTemplate,
		contract.DvPTemplate,
		contract.CashAllocatedDvPTemplate,
		contract.AllocatedDvPTemplate,
		contract.SettledDvPTemplate,
		contract.SecurityTemplate,
	}
}

// Process runs one full pass over the snapshot and returns the batches to
// submit. Decode failures are returned as errors.
func (e *Engine) Process(_ context.Context, snap contract.Snapshot) ([]command.Batch, error) {
	idx, err := BuildTradeIndex(snap, e.party)
	if err != nil {
		return nil, err
	}
	e.index = idx

	steps := []func(contract.Snapshot) ([]command.Batch, error){
		e.cacheRole,
		e.acceptInvite,
		e.recoverCycle,
		e.triggerFromSentinel,
		e.formNettingGroups,
		e.netGroups,
		e.createDvPs,
		e.settleDvPs,
		e.allocate,
		e.completeCycle,
	}

	var out []command.Batch
	for _, step := range steps {
		batches, err := step(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, batches...)
	}

	e.metrics.SetState(e.cycle.state())
	return out, nil
}

// State reports the cycle state. Call it from the bot loop.
func (e *Engine) State() State {
	return e.cycle.state()
}

// Status describes the active cycle.
type Status struct {
	State          string `json:"state"`
	SettlementDate string `json:"settlement_date,omitempty"`
	TradesNovated  int    `json:"trades_novated"`
	DvPCount       int    `json:"dvp_count"`
	Joined         bool   `json:"joined"`
}

func (e *Engine) Status() Status {
	return Status{
		State:          e.cycle.state().String(),
		SettlementDate: e.cycle.date.String(),
		TradesNovated:  e.cycle.tradesNovated,
		DvPCount:       e.cycle.dvpCount,
		Joined:         e.joined,
	}
}

func (e *Engine) exercise(wf command.Workflow, t contract.TemplateID, id, choice string, args any, pending command.PendingSet) (command.Batch, error) {
	cmd, err := command.Exercise(t, id, choice, args)
	if err != nil {
		return command.Batch{}, err
	}
	e.metrics.ObserveRequest(wf)
	return command.NewBatch(e.party, wf, []command.Command{cmd}, pending), nil
}
