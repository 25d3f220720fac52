package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-repo/internal/config"
	"github.com/ksred/klear-repo/internal/market"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	dsn        string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "repomarket",
		Short:         "Repo market settlement bots",
		Long:          "Runs the operator, clearing house, payment processor and trading participant bots of a repo market over a shared ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "ledger database DSN, overrides ledger.dsn")

	cmd.AddCommand(
		newRoleCommand(opts, "all", "Run every bot in one process", func(cfg *config.Config, _ []string) (market.Selection, error) {
			return market.Everything(cfg), nil
		}),
		newRoleCommand(opts, "operator", "Run the market operator bot", func(*config.Config, []string) (market.Selection, error) {
			return market.Selection{Operator: true, Serve: true}, nil
		}),
		newRoleCommand(opts, "ccp", "Run the clearing house bot", func(*config.Config, []string) (market.Selection, error) {
			return market.Selection{CCP: true, Serve: true}, nil
		}),
		newRoleCommand(opts, "paymentProcessor", "Run the payment processor bot", func(*config.Config, []string) (market.Selection, error) {
			return market.Selection{PaymentProcessor: true, Serve: true}, nil
		}),
		newParticipantCommand(opts),
	)

	return cmd
}

type selector func(cfg *config.Config, args []string) (market.Selection, error)

func newRoleCommand(opts *rootOptions, use, short string, sel selector) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, sel)
		},
	}
}

func newParticipantCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tradingParticipant PARTY [TRADE_FILE]",
		Short: "Run a trading participant bot",
		Long:  "Runs the bot of a configured trading party. TRADE_FILE, when given, replaces the party's configured trade file.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, func(cfg *config.Config, args []string) (market.Selection, error) {
				tp, ok := cfg.TradingParty(args[0])
				if !ok {
					return market.Selection{}, fmt.Errorf("%w: %s", market.ErrUnknownParty, args[0])
				}
				if len(args) == 2 {
					for i := range cfg.TradingParties {
						if cfg.TradingParties[i].Name == tp.Name {
							cfg.TradingParties[i].TradeFile = args[1]
						}
					}
				}
				return market.Selection{Participants: []string{tp.Name}, Serve: true}, nil
			})
		},
	}
}

func run(ctx context.Context, opts *rootOptions, args []string, sel selector) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dsn != "" {
		cfg.Ledger.DSN = opts.dsn
	}
	if cfg.LogLevel == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	selection, err := sel(cfg, args)
	if err != nil {
		return err
	}

	l, err := market.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	m, err := market.New(cfg, l, selection)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info().Str("env", cfg.Env).Str("dsn", cfg.Ledger.DSN).Msg("starting repo market")
	if err := m.Run(ctx); err != nil {
		return err
	}
	zlog.Info().Msg("repo market stopped")
	return nil
}
