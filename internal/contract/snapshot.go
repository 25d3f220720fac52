package contract

// Snapshot is a point-in-time view of the active contracts visible to one
// party, restricted to the templates it subscribed to. Contracts of a
// template are kept in ledger creation order.
type Snapshot struct {
	Offset     int64
	byTemplate map[TemplateID][]Contract
}

// NewSnapshot groups contracts by template, preserving their order.
func NewSnapshot(offset int64, contracts []Contract) Snapshot {
	s := Snapshot{Offset: offset, byTemplate: make(map[TemplateID][]Contract)}
	for _, c := range contracts {
		s.byTemplate[c.Template] = append(s.byTemplate[c.Template], c)
	}
	return s
}

func (s Snapshot) Contracts(t TemplateID) []Contract {
	return s.byTemplate[t]
}

func (s Snapshot) Count(t TemplateID) int {
	return len(s.byTemplate[t])
}

// Contains reports whether the id is active in the snapshot under template t.
func (s Snapshot) Contains(t TemplateID, id string) bool {
	for _, c := range s.byTemplate[t] {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s Snapshot) Len() int {
	n := 0
	for _, cs := range s.byTemplate {
		n += len(cs)
	}
	return n
}

// Without returns a copy of the snapshot that hides the given ids of each
// template. The receiver is not modified.
func (s Snapshot) Without(hidden map[TemplateID]map[string]struct{}) Snapshot {
	if len(hidden) == 0 {
		return s
	}
	out := Snapshot{Offset: s.Offset, byTemplate: make(map[TemplateID][]Contract, len(s.byTemplate))}
	for t, cs := range s.byTemplate {
		ids := hidden[t]
		if len(ids) == 0 {
			out.byTemplate[t] = cs
			continue
		}
		kept := make([]Contract, 0, len(cs))
		for _, c := range cs {
			if _, skip := ids[c.ID]; !skip {
				kept = append(kept, c)
			}
		}
		out.byTemplate[t] = kept
	}
	return out
}
