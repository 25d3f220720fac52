package participant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrInjectorBusy = errors.New("trade injection queue is full")

// Injector streams trade files into the ledger through the participant's
// bot loop, one trade request per limiter tick.
type Injector struct {
	participant *Participant
	loop        bot.Controller
	limiter     *rate.Limiter
	metrics     *Metrics
	logger      zerolog.Logger

	files chan string
}

// NewInjector paces requests delay apart. A zero delay injects as fast as
// the loop accepts them.
func NewInjector(p *Participant, loop bot.Controller, delay time.Duration, metrics *Metrics) *Injector {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Injector{
		participant: p,
		loop:        loop,
		limiter:     rate.NewLimiter(limit, 1),
		metrics:     metrics,
		logger:      log.With().Str("component", "injector").Str("party", p.Party()).Logger(),
		files:       make(chan string, 16),
	}
}

// Enqueue schedules a trade file for injection by Run.
func (i *Injector) Enqueue(path string) error {
	select {
	case i.files <- path:
		return nil
	default:
		return ErrInjectorBusy
	}
}

// Run injects queued files one after another until ctx is done. A failed
// file is logged and the next one is taken.
func (i *Injector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-i.files:
			n, err := i.InjectFile(ctx, path)
			if err != nil && ctx.Err() == nil {
				i.logger.Error().Err(err).Str("file", path).Int("injected", n).Msg("trade injection stopped")
				continue
			}
			i.logger.Info().Str("file", path).Int("injected", n).Msgf("%d trades injected from %s", n, path)
		}
	}
}

func (i *Injector) InjectFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open trade file: %w", err)
	}
	defer f.Close()
	return i.Inject(ctx, f)
}

// Inject requests every trade the participant lends in r. It stops at the
// first malformed row and returns how many trades were requested before it.
func (i *Injector) Inject(ctx context.Context, r io.Reader) (int, error) {
	tr := NewTradeReader(r, i.participant.Party())
	n := 0
	for {
		req, err := tr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := i.limiter.Wait(ctx); err != nil {
			return n, err
		}

		err = i.loop.Do(ctx, func(context.Context, contract.Snapshot) ([]command.Batch, error) {
			b, err := i.participant.RequestTrade(req)
			if err != nil {
				return nil, err
			}
			return []command.Batch{b}, nil
		})
		if err != nil {
			return n, fmt.Errorf("failed to request trade %d: %w", req.Info.TradeID, err)
		}
		n++
		i.metrics.ObserveInjected()
		i.logger.Info().
			Int64("trade_id", req.Info.TradeID).
			Str("borrower", req.Borrower).
			Msgf("requests trade with %s, tradeId '%d'", req.Borrower, req.Info.TradeID)
	}
}
