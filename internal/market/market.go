// Package market wires the party bots onto a shared ledger and serves their
// control endpoints.
package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/auth"
	"github.com/ksred/klear-repo/internal/bot"
	"github.com/ksred/klear-repo/internal/clearing"
	"github.com/ksred/klear-repo/internal/command"
	"github.com/ksred/klear-repo/internal/config"
	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/database"
	"github.com/ksred/klear-repo/internal/ledger"
	"github.com/ksred/klear-repo/internal/operator"
	"github.com/ksred/klear-repo/internal/participant"
	"github.com/ksred/klear-repo/internal/payment"
	"github.com/ksred/klear-repo/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownParty = errors.New("unknown trading party")

const shutdownTimeout = 5 * time.Second

// Selection names the bots a process runs.
type Selection struct {
	Operator         bool
	CCP              bool
	PaymentProcessor bool
	Participants     []string
	// Serve starts an HTTP server per bot on its configured port.
	Serve            bool
}

// Everything selects every configured bot.
func Everything(cfg *config.Config) Selection {
	return Selection{
		Operator:         true,
		CCP:              true,
		PaymentProcessor: true,
		Participants:     cfg.Participants(),
		Serve:            true,
	}
}

// Open opens the configured ledger store.
func Open(cfg *config.Config) (*ledger.Ledger, error) {
	db, err := database.NewDatabase(cfg.Ledger.DSN)
	if err != nil {
		return nil, err
	}
	return ledger.New(db), nil
}

type node struct {
	party   string
	port    int
	runner  *bot.Runner
	router  *gin.Engine
	limiter *middleware.RateLimiter
	tasks   []func(context.Context) error
}

type Market struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	registry *prometheus.Registry
	serve    bool
	logger   zerolog.Logger

	nodes    []*node
	engine   *clearing.Engine
	operator *operator.Operator
	opLoop   *bot.Runner
	ccpLoop  *bot.Runner
}

func New(cfg *config.Config, l *ledger.Ledger, sel Selection) (*Market, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Market{
		cfg:      cfg,
		ledger:   l,
		registry: registry,
		serve:    sel.Serve,
		logger:   log.With().Str("component", "market").Logger(),
	}
	botMetrics := bot.NewMetrics(registry)

	if sel.Operator {
		holdings, err := Holdings(cfg)
		if err != nil {
			return nil, err
		}
		m.operator = operator.New(operator.Config{
			Party:        cfg.Parties.Operator,
			CCP:          cfg.Parties.CCP,
			Participants: cfg.Participants(),
			Holdings:     holdings,
		})
		n := m.addNode(m.operator, cfg.Operator.Port, botMetrics)
		m.opLoop = n.runner
		m.mount(n, operator.NewGinHandlers(m.operator, n.runner).RegisterRoutes)
	}

	if sel.CCP {
		m.engine = clearing.NewEngine(clearing.Config{
			Party:            cfg.Parties.CCP,
			PaymentProcessor: cfg.Parties.PaymentProcessor,
			AllocationMode:   cfg.AllocationMode(),
			Recover:          cfg.Engine.Recover,
		}, clearing.NewMetrics(registry))
		n := m.addNode(m.engine, cfg.CCP.Port, botMetrics)
		m.ccpLoop = n.runner
		m.mount(n, clearing.NewGinHandlers(m.engine, n.runner).RegisterRoutes)
		n.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	if sel.PaymentProcessor {
		m.addNode(payment.NewProcessor(cfg.Parties.PaymentProcessor), cfg.PaymentProcessor.Port, botMetrics)
	}

	for _, name := range sel.Participants {
		tp, ok := cfg.TradingParty(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownParty, name)
		}
		m.addParticipant(tp, botMetrics)
	}

	return m, nil
}

func (m *Market) addNode(reactor bot.Reactor, port int, metrics *bot.Metrics) *node {
	n := &node{
		party: reactor.Party(),
		port:  port,
		runner: bot.NewRunner(m.ledger, reactor,
			bot.WithPollInterval(m.cfg.Bot.PollInterval),
			bot.WithMetrics(metrics),
		),
		limiter: middleware.NewRateLimiter(),
	}
	n.router = m.router(n)
	m.nodes = append(m.nodes, n)
	return n
}

func (m *Market) addParticipant(tp config.TradingPartyConfig, metrics *bot.Metrics) {
	p := participant.New(tp.Name)
	n := m.addNode(p, tp.Port, metrics)
	injector := participant.NewInjector(p, n.runner, m.cfg.Injection.Delay, participant.NewMetrics(m.registry, tp.Name))
	m.mount(n, participant.NewGinHandlers(p, injector).RegisterRoutes)

	n.tasks = append(n.tasks, injector.Run)
	if tp.TradeFile != "" {
		n.tasks = append(n.tasks, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return nil
			case <-p.Ready():
			}
			if err := injector.Enqueue(tp.TradeFile); err != nil {
				m.logger.Error().Err(err).Str("party", tp.Name).Msg("failed to queue trade file")
			}
			return nil
		})
	}
}

// router builds the base of a bot's control server with token issuance
// and a health check.
func (m *Market) router(n *node) *gin.Engine {
	party := n.party
	r := gin.New()
	r.Use(gin.Recovery(), n.limiter.Handler(), middleware.RequestLogger(party))

	svc := auth.NewService(m.cfg.Auth.Secret, party)
	svc.RegisterAPICredentials(m.cfg.Auth.APIKey, m.cfg.Auth.APISecret, auth.PermissionRead, auth.PermissionControl)

	r.POST("/api/v1/auth/token", auth.NewGinHandlers(svc).GenerateTokenHandler())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "party": party})
	})
	return r
}

// mount registers a bot's control routes at the root and under
// /api/v1/internal behind internal auth.
func (m *Market) mount(n *node, register func(gin.IRoutes)) {
	register(n.router)

	svc := auth.NewService(m.cfg.Auth.Secret, n.party)
	internal := n.router.Group("/api/v1/internal")
	internal.Use(middleware.InternalAuth(svc))
	register(internal)
}

// Handler returns the control handler of party's bot.
func (m *Market) Handler(party string) (http.Handler, bool) {
	for _, n := range m.nodes {
		if n.party == party {
			return n.router, true
		}
	}
	return nil, false
}

func (m *Market) Registry() *prometheus.Registry {
	return m.registry
}

// Run runs every selected bot until ctx is cancelled or one of them fails.
func (m *Market) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, n := range m.nodes {
		n := n
		g.Go(func() error {
			return n.runner.Run(ctx)
		})
		g.Go(func() error {
			return n.limiter.Run(ctx)
		})
		for _, task := range n.tasks {
			task := task
			g.Go(func() error {
				return task(ctx)
			})
		}
		if m.serve {
			g.Go(func() error {
				return m.listen(ctx, n)
			})
		}
	}

	m.logger.Info().Int("bots", len(m.nodes)).Msg("market started")
	return g.Wait()
}

func (m *Market) listen(ctx context.Context, n *node) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(n.port),
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Info().Str("party", n.party).Int("port", n.port).Msg("control server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s: listen: %w", n.party, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s: shutdown: %w", n.party, err)
	}
	return nil
}

// InitiateSettlement asks the clearing house to settle date through the
// operator bot.
func (m *Market) InitiateSettlement(ctx context.Context, date contract.Date) error {
	if m.opLoop == nil {
		return fmt.Errorf("operator bot is not running in this process")
	}
	return m.opLoop.Do(ctx, func(context.Context, contract.Snapshot) ([]command.Batch, error) {
		b, err := m.operator.InitiateSettlement(date)
		if err != nil {
			return nil, err
		}
		return []command.Batch{b}, nil
	})
}

// Status reads the clearing engine status from inside its bot loop.
func (m *Market) Status(ctx context.Context) (clearing.Status, error) {
	if m.ccpLoop == nil {
		return clearing.Status{}, fmt.Errorf("clearing bot is not running in this process")
	}
	var status clearing.Status
	err := m.ccpLoop.Do(ctx, func(context.Context, contract.Snapshot) ([]command.Batch, error) {
		status = m.engine.Status()
		return nil, nil
	})
	return status, err
}

// Holdings converts the configured clearing house holdings.
func Holdings(cfg *config.Config) ([]operator.Holding, error) {
	out := make([]operator.Holding, 0, len(cfg.Holdings))
	for _, h := range cfg.Holdings {
		q, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, fmt.Errorf("holding %s: %w", h.Cusip, err)
		}
		out = append(out, operator.Holding{Cusip: h.Cusip, Quantity: q})
	}
	return out, nil
}
