// Package config loads the market configuration from a YAML file and
// REPO_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ksred/klear-repo/internal/clearing"
	"github.com/ksred/klear-repo/internal/database"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const DefaultPath = "config.yaml"

var ErrInvalid = errors.New("invalid config")

type LedgerConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	Secret    string `mapstructure:"secret"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

type PartiesConfig struct {
	Operator         string `mapstructure:"operator"`
	CCP              string `mapstructure:"ccp"`
	PaymentProcessor string `mapstructure:"payment_processor"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type TradingPartyConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`

	// TradeFile is injected as soon as the participant is onboarded.
	TradeFile string `mapstructure:"trade_file"`
}

type InjectionConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

type BotConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type EngineConfig struct {
	AllocationMode string `mapstructure:"allocation_mode"`
	Recover        bool   `mapstructure:"recover"`
}

type HoldingConfig struct {
	Cusip    string `mapstructure:"cusip"`
	Quantity string `mapstructure:"quantity"`
}

type Config struct {
	Env              string               `mapstructure:"env"`
	LogLevel         string               `mapstructure:"log_level"`
	Ledger           LedgerConfig         `mapstructure:"ledger"`
	Auth             AuthConfig           `mapstructure:"auth"`
	Parties          PartiesConfig        `mapstructure:"parties"`
	CCP              ServerConfig         `mapstructure:"ccp"`
	Operator         ServerConfig         `mapstructure:"operator"`
	PaymentProcessor ServerConfig         `mapstructure:"payment_processor"`
	TradingParties   []TradingPartyConfig `mapstructure:"trading_parties"`
	Injection        InjectionConfig      `mapstructure:"injection"`
	Bot              BotConfig            `mapstructure:"bot"`
	Engine           EngineConfig         `mapstructure:"engine"`
	Holdings         []HoldingConfig      `mapstructure:"holdings"`
}

// Load reads path, or config.yaml when path is empty. A missing default
// file is not an error; a missing explicit one is.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil || explicit {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("ledger.dsn", database.DefaultDSN)
	v.SetDefault("auth.secret", "repo-market-secret")
	v.SetDefault("auth.api_key", "test-api-key")
	v.SetDefault("auth.api_secret", "test-api-secret")
	v.SetDefault("parties.operator", "Operator")
	v.SetDefault("parties.ccp", "CCP")
	v.SetDefault("parties.payment_processor", "PaymentProcessor")
	v.SetDefault("operator.port", 8080)
	v.SetDefault("ccp.port", 8081)
	v.SetDefault("payment_processor.port", 8082)
	v.SetDefault("injection.delay", "2s")
	v.SetDefault("bot.poll_interval", "1s")
	v.SetDefault("engine.allocation_mode", string(clearing.AllocateSingle))
	v.SetDefault("engine.recover", true)
}

// Validate checks party names, ports and engine settings.
func (c *Config) Validate() error {
	roles := map[string]string{
		"parties.operator":          c.Parties.Operator,
		"parties.ccp":               c.Parties.CCP,
		"parties.payment_processor": c.Parties.PaymentProcessor,
	}
	names := make(map[string]bool)
	for key, name := range roles {
		if name == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalid, key)
		}
		if names[name] {
			return fmt.Errorf("%w: party %q has more than one role", ErrInvalid, name)
		}
		names[name] = true
	}

	ports := make(map[int]string)
	claim := func(owner string, port int) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %s port %d out of range", ErrInvalid, owner, port)
		}
		if other, ok := ports[port]; ok {
			return fmt.Errorf("%w: %s and %s share port %d", ErrInvalid, owner, other, port)
		}
		ports[port] = owner
		return nil
	}
	if err := claim(c.Parties.Operator, c.Operator.Port); err != nil {
		return err
	}
	if err := claim(c.Parties.CCP, c.CCP.Port); err != nil {
		return err
	}
	if err := claim(c.Parties.PaymentProcessor, c.PaymentProcessor.Port); err != nil {
		return err
	}

	for i, tp := range c.TradingParties {
		if tp.Name == "" {
			return fmt.Errorf("%w: trading_parties[%d] has no name", ErrInvalid, i)
		}
		if names[tp.Name] {
			return fmt.Errorf("%w: party %q has more than one role", ErrInvalid, tp.Name)
		}
		names[tp.Name] = true
		if err := claim(tp.Name, tp.Port); err != nil {
			return err
		}
	}

	if _, err := clearing.ParseAllocationMode(c.Engine.AllocationMode); err != nil {
		return fmt.Errorf("%w: engine.allocation_mode: %v", ErrInvalid, err)
	}
	if c.Injection.Delay < 0 {
		return fmt.Errorf("%w: injection.delay must not be negative", ErrInvalid)
	}
	if c.Bot.PollInterval <= 0 {
		return fmt.Errorf("%w: bot.poll_interval must be positive", ErrInvalid)
	}

	for i, h := range c.Holdings {
		if h.Cusip == "" {
			return fmt.Errorf("%w: holdings[%d] has no cusip", ErrInvalid, i)
		}
		q, err := decimal.NewFromString(h.Quantity)
		if err != nil || !q.IsPositive() {
			return fmt.Errorf("%w: holdings[%d] quantity %q must be a positive number", ErrInvalid, i, h.Quantity)
		}
	}
	return nil
}

// Participants returns the trading party names in configuration order.
func (c *Config) Participants() []string {
	out := make([]string, 0, len(c.TradingParties))
	for _, tp := range c.TradingParties {
		out = append(out, tp.Name)
	}
	return out
}

func (c *Config) TradingParty(name string) (TradingPartyConfig, bool) {
	for _, tp := range c.TradingParties {
		if tp.Name == name {
			return tp, true
		}
	}
	return TradingPartyConfig{}, false
}

// AllocationMode returns the validated engine allocation mode.
func (c *Config) AllocationMode() clearing.AllocationMode {
	mode, _ := clearing.ParseAllocationMode(c.Engine.AllocationMode)
	return mode
}
