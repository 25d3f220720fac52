package command

import (
	"encoding/json"
	"testing"

	"github.com/ksred/klear-repo/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExerciseEncodesArguments(t *testing.T) {
	cmd, err := Exercise(contract.CCPTemplate, "ccp-1", "FormNettingGroups", map[string]any{
		"groups": [][]string{{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, KindExercise, cmd.Kind)
	assert.JSONEq(t, `{"groups":[["a","b"]]}`, string(cmd.Arguments))

	noArgs, err := Exercise(contract.TradeTemplate, "t-1", "Novate", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(noArgs.Arguments))
}

func TestCreateRejectsUnknownTemplate(t *testing.T) {
	_, err := Create(bogus{})
	assert.ErrorIs(t, err, contract.ErrUnknownTemplate)

	cmd, err := Create(contract.Genesis{Operator: "Operator"})
	require.NoError(t, err)
	assert.Equal(t, KindCreate, cmd.Kind)
	assert.Equal(t, contract.GenesisTemplate, cmd.Template)
}

type bogus struct{}

func (bogus) Template() contract.TemplateID { return "Bogus" }
func (bogus) Stakeholders() []string { return nil }

func TestNewBatchAssignsIdentity(t *testing.T) {
	a := NewBatch("CCP", WorkflowNetting, nil, nil)
	b := NewBatch("CCP", WorkflowNetting, nil, nil)

	assert.NotEqual(t, a.CommandID, b.CommandID)
	assert.Equal(t, WorkflowNetting, a.Workflow)
	assert.Contains(t, a.WorkflowID, string(WorkflowNetting))
	assert.NotNil(t, a.Pending)
	assert.True(t, a.Empty())
}

func TestPendingSetOperations(t *testing.T) {
	p := Single(contract.TradeTemplate, "t1").
		Add(contract.TradeTemplate, "t2").
		Add(contract.SecurityTemplate, "s1")

	assert.Equal(t, 3, p.Len())
	assert.True(t, p.Contains(contract.TradeTemplate, "t2"))
	assert.Equal(t, []string{"t1", "t2"}, p.IDs(contract.TradeTemplate))

	clone := p.Clone()
	p.Remove(Single(contract.SecurityTemplate, "s1"))
	assert.False(t, p.Contains(contract.SecurityTemplate, "s1"))
	_, ok := p[contract.SecurityTemplate]
	assert.False(t, ok, "empty templates are pruned")
	assert.True(t, clone.Contains(contract.SecurityTemplate, "s1"), "clone is independent")
}

func TestPendingSetJSON(t *testing.T) {
	p := Single(contract.DvPTemplate, "d2").Add(contract.DvPTemplate, "d1")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"DvP":["d1","d2"]}`, string(data))

	var back PendingSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Len())
}
