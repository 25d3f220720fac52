package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-repo/internal/clearing"
	"github.com/ksred/klear-repo/internal/config"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/database"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/ksred/klear-repo/internal/market"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minTrades       = 15
	maxTrades       = 150
	settlementDays  = 3
	simulationLimit = 2 * time.Minute
	pollEvery       = 25 * time.Millisecond
)

var (
	participants = []string{"Alice", "Bob", "Carol", "Dave"}
	cusips       = []string{"912796RW1", "912796QW2", "912828YK0", "9128284N7"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	gin.SetMode(gin.ReleaseMode)
}

// main runs every bot in-process against an in-memory ledger, injects a
// random book of repo trades and settles it one date at a time.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), simulationLimit)
	defer cancel()

	if err := simulate(ctx, rand.New(rand.NewSource(time.Now().UnixNano()))); err != nil {
		log.Fatal().Err(err).Msg("Simulation failed")
	}
}

func simulate(ctx context.Context, rng *rand.Rand) error {
	dir, err := os.MkdirTemp("", "repo-simulation")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	first, err := contract.ParseDate("2019-04-01")
	if err != nil {
		return err
	}
	book := generateBook(rng, rng.Intn(maxTrades-minTrades)+minTrades, first, settlementDays)
	tradeFile := filepath.Join(dir, "trades.csv")
	if err := book.write(tradeFile); err != nil {
		return err
	}
	log.Info().Int("trades", len(book.trades)).Int("dates", len(book.dates())).Msg("Starting simulation")

	cfg := simulationConfig(tradeFile, book)
	l, err := market.Open(cfg)
	if err != nil {
		return err
	}
	sel := market.Everything(cfg)
	sel.Serve = false
	m, err := market.New(cfg, l, sel)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()
	defer func() {
		stop()
		if err := <-done; err != nil {
			log.Error().Err(err).Msg("market stopped with error")
		}
	}()

	stats := newPhaseStats()

	start := time.Now()
	if err := waitFor(ctx, func() (bool, error) {
		n, err := count(ctx, l, cfg.Parties.CCP, contract.TradeTemplate)
		return n == len(book.trades), err
	}); err != nil {
		return fmt.Errorf("waiting for trade registration: %w", err)
	}
	stats.record("Onboard + inject", time.Since(start))
	log.Info().Int("trades", len(book.trades)).Dur("elapsed", time.Since(start)).Msg("All trades registered")

	for _, date := range book.dates() {
		start := time.Now()
		if err := m.InitiateSettlement(ctx, date); err != nil {
			return err
		}
		if err := waitFor(ctx, func() (bool, error) {
			return settled(ctx, m, l, cfg.Parties.CCP, date)
		}); err != nil {
			return fmt.Errorf("waiting for settlement of %s: %w", date, err)
		}
		stats.record("Settlement cycle", time.Since(start))
		log.Info().Str("settlement_date", date.String()).Int("trades", book.count(date)).Dur("elapsed", time.Since(start)).Msg("Date settled")
	}

	dvps, err := count(ctx, l, cfg.Parties.CCP, contract.SettledDvPTemplate)
	if err != nil {
		return err
	}
	stats.print()
	fmt.Printf("\nTrades: %d  Settled DvPs: %d  Netting ratio: %.2f trades per DvP\n",
		len(book.trades), dvps, float64(len(book.trades))/float64(max(dvps, 1)))
	return nil
}

func simulationConfig(tradeFile string, b book) *config.Config {
	cfg := &config.Config{
		Env:    "simulation",
		Ledger: config.LedgerConfig{DSN: database.MemoryDSN("simulation-" + uuid.NewString())},
		Auth:   config.AuthConfig{Secret: uuid.NewString()},
		Parties: config.PartiesConfig{
			Operator:         "Operator",
			CCP:              "CCP",
			PaymentProcessor: "PaymentProcessor",
		},
		Bot:    config.BotConfig{PollInterval: 100 * time.Millisecond},
		Engine: config.EngineConfig{AllocationMode: string(clearing.AllocatePerCusip), Recover: true},
	}
	for _, p := range participants {
		cfg.TradingParties = append(cfg.TradingParties, config.TradingPartyConfig{Name: p, TradeFile: tradeFile})
	}
	for _, h := range b.holdings() {
		cfg.Holdings = append(cfg.Holdings, config.HoldingConfig{Cusip: h.Cusip, Quantity: h.Quantity.String()})
	}
	return cfg
}

func count(ctx context.Context, l *ledger.Ledger, party string, t contract.TemplateID) (int, error) {
	snap, err := l.Snapshot(ctx, party, []contract.TemplateID{t})
	if err != nil {
		return 0, err
	}
	return snap.Count(t), nil
}

// settled reports whether no trade for date is outstanding and the clearing
// house is idle again.
func settled(ctx context.Context, m *market.Market, l *ledger.Ledger, ccp string, date contract.Date) (bool, error) {
	snap, err := l.Snapshot(ctx, ccp, []contract.TemplateID{contract.TradeTemplate})
	if err != nil {
		return false, err
	}
	idx, err := clearing.BuildTradeIndex(snap, ccp)
	if err != nil {
		return false, err
	}
	if len(idx.Trades(date)) > 0 {
		return false, nil
	}
	status, err := m.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.State == clearing.StateIdle.String(), nil
}

func waitFor(ctx context.Context, cond func() (bool, error)) error {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
