// Package command builds the transition requests a bot submits to the ledger.
package command

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/ksred/klear-repo/internal/contract"
)

// Workflow labels a batch for correlation in logs and metrics.
type Workflow string

const (
	WorkflowOnboarding     Workflow = "Onboarding"
	WorkflowTradeInjection Workflow = "TradeInjection"
	WorkflowNetting        Workflow = "Netting"
	WorkflowSettlement     Workflow = "Settlement"
)

type Kind string

const (
	KindExercise Kind = "EXERCISE"
	KindCreate   Kind = "CREATE"
)

// Command is a single exercise or create. Arguments are kept in their JSON
// form so batches can be logged and persisted as-is.
type Command struct {
	Kind       Kind                `json:"kind"`
	Template   contract.TemplateID `json:"template"`
	ContractID string              `json:"contract_id,omitempty"`
	Choice     string              `json:"choice,omitempty"`
	Arguments  json.RawMessage     `json:"arguments,omitempty"`
}

// Exercise builds a choice exercise on an existing contract. A nil args
// value encodes as an empty object.
func Exercise(t contract.TemplateID, contractID, choice string, args any) (Command, error) {
	raw := json.RawMessage("{}")
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return Command{}, fmt.Errorf("encode %s arguments: %w", choice, err)
		}
		raw = b
	}
	return Command{
		Kind:       KindExercise,
		Template:   t,
		ContractID: contractID,
		Choice:     choice,
		Arguments:  raw,
	}, nil
}

// Create builds a command that creates a new contract with the given payload.
func Create(p contract.Payload) (Command, error) {
	raw, err := contract.Encode(p)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s payload: %w", p.Template(), err)
	}
	return Command{Kind: KindCreate, Template: p.Template(), Arguments: raw}, nil
}

func (c Command) String() string {
	if c.Kind == KindCreate {
		return fmt.Sprintf("create %s", c.Template)
	}
	return fmt.Sprintf("%s %s on %s", c.Choice, c.ContractID, c.Template)
}

// Batch is submitted atomically. Pending lists the contracts the submitter
// treats as consumed until a later snapshot confirms or denies it.
type Batch struct {
	CommandID  string     `json:"command_id"`
	WorkflowID string     `json:"workflow_id"`
	Workflow   Workflow   `json:"workflow"`
	Party      string     `json:"party"`
	Commands   []Command  `json:"commands"`
	Pending    PendingSet `json:"pending"`
}

// NewBatch assigns a fresh command id. The workflow id combines the label
// with the command id, which keeps related log lines greppable.
func NewBatch(party string, wf Workflow, cmds []Command, pending PendingSet) Batch {
	id := uuid.New().String()
	if pending == nil {
		pending = PendingSet{}
	}
	return Batch{
		CommandID:  id,
		WorkflowID: fmt.Sprintf("%s-%s", wf, id),
		Workflow:   wf,
		Party:      party,
		Commands:   cmds,
		Pending:    pending,
	}
}

func (b Batch) Empty() bool {
	return len(b.Commands) == 0
}

// PendingSet maps a template to the ids of that template in flight.
type PendingSet map[contract.TemplateID]map[string]struct{}

// Single is the common case of a batch consuming one contract.
func Single(t contract.TemplateID, id string) PendingSet {
	return PendingSet{}.Add(t, id)
}

// Add inserts the ids and returns the set for chaining.
func (p PendingSet) Add(t contract.TemplateID, ids ...string) PendingSet {
	if len(ids) == 0 {
		return p
	}
	set, ok := p[t]
	if !ok {
		set = make(map[string]struct{}, len(ids))
		p[t] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return p
}

func (p PendingSet) Merge(other PendingSet) PendingSet {
	for t, ids := range other {
		for id := range ids {
			p.Add(t, id)
		}
	}
	return p
}

// Remove drops the ids of other from p, pruning empty templates.
func (p PendingSet) Remove(other PendingSet) {
	for t, ids := range other {
		set, ok := p[t]
		if !ok {
			continue
		}
		for id := range ids {
			delete(set, id)
		}
		if len(set) == 0 {
			delete(p, t)
		}
	}
}

func (p PendingSet) Contains(t contract.TemplateID, id string) bool {
	_, ok := p[t][id]
	return ok
}

// IDs returns the pending ids of a template in sorted order.
func (p PendingSet) IDs(t contract.TemplateID) []string {
	ids := make([]string, 0, len(p[t]))
	for id := range p[t] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p PendingSet) Len() int {
	n := 0
	for _, ids := range p {
		n += len(ids)
	}
	return n
}

// Clone returns a deep copy.
func (p PendingSet) Clone() PendingSet {
	return PendingSet{}.Merge(p)
}

// Hidden exposes the set in the shape contract.Snapshot.Without expects.
func (p PendingSet) Hidden() map[contract.TemplateID]map[string]struct{} {
	return p
}

func (p PendingSet) MarshalJSON() ([]byte, error) {
	out := make(map[contract.TemplateID][]string, len(p))
	for t := range p {
		out[t] = p.IDs(t)
	}
	return json.Marshal(out)
}

func (p *PendingSet) UnmarshalJSON(b []byte) error {
	var in map[contract.TemplateID][]string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	set := PendingSet{}
	for t, ids := range in {
		set.Add(t, ids...)
	}
	*p = set
	return nil
}
