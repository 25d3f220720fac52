package payment_test

import (
	"context"
	"testing"

	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/ksred/klear-repo/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	contracts := []contract.Contract{
		{ID: "inv-1", Template: contract.CCPInviteTemplate, Payload: &contract.CCPInvite{Operator: "Operator", CCP: "CCP", PaymentProcessor: "PP"}},
		{ID: "inv-2", Template: contract.CCPInviteTemplate, Payload: &contract.CCPInvite{Operator: "Operator", CCP: "CCP2", PaymentProcessor: "OtherPP"}},
		{ID: "dvp-1", Template: contract.DvPTemplate, Payload: &contract.UnallocatedDvP{DvP: contract.DvP{CCP: "CCP", PaymentProcessor: "PP", Payer: "Alice", Receiver: "CCP"}}},
		{ID: "dvp-2", Template: contract.DvPTemplate, Payload: &contract.UnallocatedDvP{DvP: contract.DvP{CCP: "CCP", PaymentProcessor: "PP", Payer: "CCP", Receiver: "Bob"}}},
	}
	p := payment.NewProcessor("PP")

	batches, err := p.Process(context.Background(), contract.NewSnapshot(1, contracts))
	require.NoError(t, err)
	require.Len(t, batches, 3)

	assert.Equal(t, ledger.ChoiceConfirmCCP, batches[0].Commands[0].Choice)
	assert.Equal(t, "inv-1", batches[0].Commands[0].ContractID)
	assert.Equal(t, command.WorkflowOnboarding, batches[0].Workflow)

	for i, id := range []string{"dvp-1", "dvp-2"} {
		b := batches[i+1]
		assert.Equal(t, ledger.ChoiceAllocateCash, b.Commands[0].Choice)
		assert.Equal(t, id, b.Commands[0].ContractID)
		assert.Equal(t, command.WorkflowSettlement, b.Workflow)
		assert.True(t, b.Pending.Contains(contract.DvPTemplate, id))
	}
}

func TestProcessDecodeFailure(t *testing.T) {
	snap := contract.NewSnapshot(1, []contract.Contract{{ID: "x", Template: contract.DvPTemplate, Payload: &contract.Trade{}}})
	_, err := payment.NewProcessor("PP").Process(context.Background(), snap)
	assert.ErrorIs(t, err, contract.ErrDecode)
}
