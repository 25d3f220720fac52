package market_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-repo/internal/clearing"
	"github.com/ksred/klear-repo/internal/config"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/database"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/ksred/klear-repo/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trades = "tradeId,lender,borrower,cusip,settlementDate,tradeDate,collateralQuantity,price,repoRate,term,startAmount,endAmount,currency\n" +
	"1,Alice,Bob,912796RW1,2019-04-01,2019-03-29,100,99.5,0.0245,1,9950,9950.68,USD\n" +
	"2,Bob,Alice,912796RW1,2019-04-01,2019-03-29,50,99.5,0.0245,1,4975,4975.34,USD\n" +
	"3,Alice,Bob,912796QW2,2019-04-01,2019-03-29,25,101,0.03,7,2525,2526.47,USD\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, os.WriteFile(path, []byte(trades), 0o600))

	return &config.Config{
		Env:    "test",
		Ledger: config.LedgerConfig{DSN: database.MemoryDSN(uuid.NewString())},
		Auth:   config.AuthConfig{Secret: "secret", APIKey: "key", APISecret: "key-secret"},
		Parties: config.PartiesConfig{
			Operator:         "Operator",
			CCP:              "CCP",
			PaymentProcessor: "PaymentProcessor",
		},
		Operator:         config.ServerConfig{Port: 18080},
		CCP:              config.ServerConfig{Port: 18081},
		PaymentProcessor: config.ServerConfig{Port: 18082},
		TradingParties: []config.TradingPartyConfig{
			{Name: "Alice", Port: 18090, TradeFile: path},
			{Name: "Bob", Port: 18091, TradeFile: path},
		},
		Bot:    config.BotConfig{PollInterval: 20 * time.Millisecond},
		Engine: config.EngineConfig{AllocationMode: string(clearing.AllocatePerCusip), Recover: true},
		Holdings: []config.HoldingConfig{
			{Cusip: "912796RW1", Quantity: "1000"},
			{Cusip: "912796QW2", Quantity: "500"},
		},
	}
}

func count(t *testing.T, l *ledger.Ledger, party string, tmpl contract.TemplateID) int {
	t.Helper()
	snap, err := l.Snapshot(context.Background(), party, []contract.TemplateID{tmpl})
	require.NoError(t, err)
	return snap.Count(tmpl)
}

func start(t *testing.T, cfg *config.Config) (*market.Market, *ledger.Ledger, context.Context) {
	t.Helper()
	l, err := market.Open(cfg)
	require.NoError(t, err)
	sel := market.Everything(cfg)
	sel.Serve = false
	m, err := market.New(cfg, l, sel)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return m, l, ctx
}

func TestMarketSettlesInjectedTrades(t *testing.T) {
	cfg := testConfig(t)
	m, l, ctx := start(t, cfg)

	require.Eventually(t, func() bool {
		return count(t, l, "CCP", contract.TradeTemplate) == 3
	}, 10*time.Second, 20*time.Millisecond, "every injected trade is registered")

	date, err := contract.ParseDate("2019-04-01")
	require.NoError(t, err)
	require.NoError(t, m.InitiateSettlement(ctx, date))

	require.Eventually(t, func() bool {
		return count(t, l, "CCP", contract.SettledDvPTemplate) == 4
	}, 10*time.Second, 20*time.Millisecond, "one DvP per participant and cusip")

	require.Eventually(t, func() bool {
		status, err := m.Status(ctx)
		return err == nil && status.State == clearing.StateIdle.String()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Zero(t, count(t, l, "CCP", contract.TradeTemplate))
	assert.Zero(t, count(t, l, "CCP", contract.NovatedTradeTemplate))
	assert.Zero(t, count(t, l, "Operator", contract.InitiateSettlementControlTemplate))

	assert.Equal(t, 2, count(t, l, "Alice", contract.SettledDvPTemplate))
	assert.Equal(t, 2, count(t, l, "Bob", contract.SettledDvPTemplate))

	assert.Equal(t, float64(1), counter(t, m, "clearing_settlement_cycles_completed_total"))
	assert.Equal(t, float64(3), counter(t, m, "clearing_novations_total"))
	assert.Equal(t, float64(4), counter(t, m, "clearing_netting_groups_total"))
}

func counter(t *testing.T, m *market.Market, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			var total float64
			for _, metric := range mf.GetMetric() {
				total += metric.GetCounter().GetValue()
			}
			return total
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestMarketControlRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradingParties[0].TradeFile = ""
	cfg.TradingParties[1].TradeFile = ""
	m, l, _ := start(t, cfg)

	require.Eventually(t, func() bool {
		return count(t, l, "Alice", contract.TradingParticipantTemplate) == 1
	}, 10*time.Second, 20*time.Millisecond)

	ccp, ok := m.Handler("CCP")
	require.True(t, ok)
	_, ok = m.Handler("Carol")
	assert.False(t, ok)

	serve := func(h http.Handler, method, target, bearer string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, target, strings.NewReader(`{"api_key":"key","api_secret":"key-secret"}`))
		req.Header.Set("Content-Type", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, serve(ccp, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusOK, serve(ccp, http.MethodGet, "/metrics", "").Code)
	w := serve(ccp, http.MethodPost, "/api/v1/auth/token", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusOK, serve(ccp, http.MethodGet, "/api/v1/internal/status", body.Data.Token).Code)

	op, ok := m.Handler("Operator")
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, serve(op, http.MethodGet, "/api/v1/internal/initiateSettlement?date=2019-04-01", body.Data.Token).Code,
		"tokens are scoped to the issuing party")
	assert.Equal(t, http.StatusBadRequest, serve(op, http.MethodPost, "/initiateSettlement?date=bad", "").Code)

	alice, ok := m.Handler("Alice")
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, serve(alice, http.MethodPost, "/injectTradeFile", "").Code)
}

func TestNewRejectsUnknownParticipant(t *testing.T) {
	cfg := testConfig(t)
	l, err := market.Open(cfg)
	require.NoError(t, err)

	_, err = market.New(cfg, l, market.Selection{Participants: []string{"Carol"}})
	assert.ErrorIs(t, err, market.ErrUnknownParty)
}

func TestHoldings(t *testing.T) {
	holdings, err := market.Holdings(testConfig(t))
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "912796QW2", holdings[1].Cusip)
	assert.Equal(t, "500", holdings[1].Quantity.String())
}
