package clearing

import (
	"time"

	"github.com/ksred/klear-repo/internal/contract"
)

// State of the clearing house's settlement cycle.
type State int

const (
	StateIdle State = iota
	StateNovationPending
	StateNettingFormed
)

func (s State) String() string {
	switch s {
	case StateNovationPending:
		return "NOVATION_PENDING"
	case StateNettingFormed:
		return "NETTING_FORMED"
	default:
		return "IDLE"
	}
}

// cycle holds everything scoped to one settlement date. It is only ever
// replaced as a whole: newCycle on start, withNetting once groups are
// formed, and the zero value on completion.
type cycle struct {
	active  bool
	netting bool
	date    contract.Date

	// tradesNovated is the number of novations issued, so the netting gate
	// expects twice as many novated legs.
	tradesNovated int
	dvpCount      int

	// settledBase counts settled DvPs for the date that predate the cycle.
	settledBase int
	startedAt   time.Time
}

func newCycle(date contract.Date, novated, settledBase int) cycle {
	return cycle{
		active:        true,
		date:          date,
		tradesNovated: novated,
		settledBase:   settledBase,
		startedAt:     time.Now(),
	}
}

func (c cycle) withNetting(groups int) cycle {
	next := c
	next.netting = true
	next.dvpCount = groups
	return next
}

func (c cycle) state() State {
	switch {
	case !c.active:
		return StateIdle
	case !c.netting:
		return StateNovationPending
	default:
		return StateNettingFormed
	}
}
