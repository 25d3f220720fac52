package operator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/ksred/klear-repo/internal/operator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	op    = "Operator"
	ccp   = "CCP"
	pp    = "PaymentProcessor"
	alice = "Alice"
	bob   = "Bob"
)

type view struct {
	seq       int
	contracts []contract.Contract
}

func (v *view) add(p contract.Payload) string {
	v.seq++
	id := fmt.Sprintf("%s-%d", p.Template(), v.seq)
	v.contracts = append(v.contracts, contract.Contract{ID: id, Template: p.Template(), Payload: p})
	return id
}

func (v *view) snapshot() contract.Snapshot {
	return contract.NewSnapshot(int64(v.seq), append([]contract.Contract(nil), v.contracts...))
}

func newOperator() *operator.Operator {
	return operator.New(operator.Config{
		Party:        op,
		CCP:          ccp,
		Participants: []string{alice, bob},
		Holdings: []operator.Holding{
			{Cusip: "912796RW1", Quantity: decimal.NewFromInt(1000)},
			{Cusip: "912796QW2", Quantity: decimal.NewFromInt(500)},
		},
	})
}

func process(t *testing.T, o *operator.Operator, v *view) []command.Batch {
	t.Helper()
	batches, err := o.Process(context.Background(), v.snapshot())
	require.NoError(t, err)
	return batches
}

func TestOnboardingSequence(t *testing.T) {
	o := newOperator()
	v := &view{}

	batches := process(t, o, v)
	require.Len(t, batches, 1)
	create := batches[0].Commands[0]
	assert.Equal(t, command.KindCreate, create.Kind)
	assert.Equal(t, contract.GenesisTemplate, create.Template)
	assert.Empty(t, process(t, o, v), "genesis is requested once")

	genesis := v.add(&contract.Genesis{Operator: op})
	batches = process(t, o, v)
	require.Len(t, batches, 1)
	invite := batches[0].Commands[0]
	assert.Equal(t, ledger.ChoiceInviteCCP, invite.Choice)
	assert.Equal(t, genesis, invite.ContractID)
	var args ledger.InviteCCPArgs
	require.NoError(t, json.Unmarshal(invite.Arguments, &args))
	assert.Equal(t, ccp, args.CCP)
	assert.Empty(t, process(t, o, v), "the clearing house is invited once")

	role := v.add(&contract.CCP{Operator: op, CCP: ccp, PaymentProcessor: pp})
	batches = process(t, o, v)
	require.Len(t, batches, 2)

	parties := batches[0].Commands[0]
	assert.Equal(t, ledger.ChoiceInviteTradingParticipants, parties.Choice)
	assert.Equal(t, role, parties.ContractID)
	var partyArgs ledger.InviteTradingParticipantsArgs
	require.NoError(t, json.Unmarshal(parties.Arguments, &partyArgs))
	assert.Equal(t, []string{alice, bob}, partyArgs.Parties)

	holdings := batches[1].Commands
	require.Len(t, holdings, 2)
	for _, cmd := range holdings {
		assert.Equal(t, contract.SecurityTemplate, cmd.Template)
		c, err := contract.Decode("new", cmd.Template, cmd.Arguments)
		require.NoError(t, err)
		s := c.Payload.(*contract.Security)
		assert.Equal(t, op, s.Issuer)
		assert.Equal(t, ccp, s.Owner)
	}

	assert.Empty(t, process(t, o, v))
}

func TestRestartSkipsCompletedOnboarding(t *testing.T) {
	v := &view{}
	v.add(&contract.Genesis{Operator: op})
	v.add(&contract.CCP{Operator: op, CCP: ccp, PaymentProcessor: pp})
	v.add(&contract.TradingParticipant{Operator: op, CCP: ccp, Participant: alice})
	v.add(&contract.InviteTradingParticipant{Operator: op, CCP: ccp, Participant: bob})
	v.add(&contract.Security{Issuer: op, Owner: ccp, Cusip: "912796RW1", CollateralQuantity: decimal.NewFromInt(10)})

	assert.Empty(t, process(t, newOperator(), v))
}

func TestRestartInvitesMissingParticipants(t *testing.T) {
	v := &view{}
	v.add(&contract.Genesis{Operator: op})
	v.add(&contract.CCP{Operator: op, CCP: ccp, PaymentProcessor: pp})
	v.add(&contract.TradingParticipant{Operator: op, CCP: ccp, Participant: alice})
	v.add(&contract.Security{Issuer: op, Owner: ccp, Cusip: "912796RW1", CollateralQuantity: decimal.NewFromInt(10)})

	batches := process(t, newOperator(), v)
	require.Len(t, batches, 1)
	var args ledger.InviteTradingParticipantsArgs
	require.NoError(t, json.Unmarshal(batches[0].Commands[0].Arguments, &args))
	assert.Equal(t, []string{bob}, args.Parties)
}

type loop struct {
	v         *view
	submitted []command.Batch
}

func (l *loop) Do(ctx context.Context, fn bot.ControlFunc) error {
	batches, err := fn(ctx, l.v.snapshot())
	if err != nil {
		return err
	}
	l.submitted = append(l.submitted, batches...)
	return nil
}

func TestInitiateSettlementHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := &loop{v: &view{}}
	r := gin.New()
	operator.NewGinHandlers(newOperator(), l).RegisterRoutes(r)

	serve := func(target string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, target, nil))
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, serve("/initiateSettlement?date=2019-13-40"))
	assert.Equal(t, http.StatusBadRequest, serve("/initiateSettlement"))
	assert.Empty(t, l.submitted)

	assert.Equal(t, http.StatusOK, serve("/initiateSettlement?date=2019-04-01"))
	require.Len(t, l.submitted, 1)
	cmd := l.submitted[0].Commands[0]
	require.Equal(t, contract.InitiateSettlementControlTemplate, cmd.Template)
	c, err := contract.Decode("new", cmd.Template, cmd.Arguments)
	require.NoError(t, err)
	sentinel := c.Payload.(*contract.InitiateSettlementControl)
	assert.Equal(t, ccp, sentinel.CCP)
	assert.Equal(t, "2019-04-01", sentinel.SettlementDate.String())
}
