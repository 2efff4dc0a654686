package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for synthd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	DatabasePath  string       `yaml:"database"`
	StatePath     string       `yaml:"state"`
	Oracle        OracleConfig `yaml:"oracle"`
	Sources       []Source     `yaml:"sources"`
	Engine        EngineConfig `yaml:"engine"`
	Admin         AdminConfig  `yaml:"admin"`
}

// OracleConfig tunes the price aggregation loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	MinFeeds int      `yaml:"min_feeds"`
}

// Source describes an upstream price feed.
type Source struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	// Price fixes the quote for static (development) sources.
	Price string `yaml:"price"`
}

// EngineConfig overrides issuance engine parameters.
type EngineConfig struct {
	CollateralRatio   uint64 `yaml:"collateral_ratio"`
	MinWithdrawalWei  string `yaml:"min_withdrawal_wei"`
	FulfillGasLimit   uint64 `yaml:"fulfill_gas_limit"`
	Sequential        bool   `yaml:"sequential"`
	FailOnOracleError bool   `yaml:"fail_on_oracle_error"`
	MintSourcePath    string `yaml:"mint_source_path"`
	RedeemSourcePath  string `yaml:"redeem_source_path"`
	Authority         string `yaml:"authority"`
}

// AdminConfig secures the mutating HTTP surface.
type AdminConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/var/data/synthd.sqlite"
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/synthd-state"
	}
	if cfg.Oracle.Interval.Duration == 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration == 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	if cfg.Oracle.MinFeeds <= 0 {
		cfg.Oracle.MinFeeds = 1
	}
}

func validate(cfg Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one price source must be configured")
	}
	if strings.TrimSpace(cfg.Admin.BearerToken) == "" {
		return fmt.Errorf("admin bearer token must be configured")
	}
	if _, err := cfg.Engine.AuthorityAddress(); err != nil {
		return err
	}
	if raw := strings.TrimSpace(cfg.Engine.MinWithdrawalWei); raw != "" {
		if _, ok := new(big.Int).SetString(raw, 10); !ok {
			return fmt.Errorf("invalid min_withdrawal_wei %q", raw)
		}
	}
	return nil
}

// AuthorityAddress decodes the configured mint authority.
func (e EngineConfig) AuthorityAddress() ([20]byte, error) {
	var addr [20]byte
	raw := strings.TrimPrefix(strings.TrimSpace(e.Authority), "0x")
	if raw == "" {
		return addr, fmt.Errorf("engine authority must be configured")
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return addr, fmt.Errorf("decode authority: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("authority must be %d bytes, got %d", len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

// MinWithdrawal parses the configured floor, nil when unset.
func (e EngineConfig) MinWithdrawal() *big.Int {
	raw := strings.TrimSpace(e.MinWithdrawalWei)
	if raw == "" {
		return nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil
	}
	return value
}
