package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Genesis seeds the registry policy and initial token balances on first
// start. Addresses are hex-encoded 20-byte values.
type Genesis struct {
	Admin           string            `toml:"Admin"`
	FeeRecipient    string            `toml:"FeeRecipient"`
	RescueRecipient string            `toml:"RescueRecipient"`
	FeeRateBps      uint32            `toml:"FeeRateBps"`
	Balances        map[string]string `toml:"Balances"`
}

type Config struct {
	RPCAddress     string  `toml:"RPCAddress"`
	MetricsAddress string  `toml:"MetricsAddress"`
	DataDir        string  `toml:"DataDir"`
	Environment    string  `toml:"Environment"`
	Token          string  `toml:"Token"`
	Genesis        Genesis `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./data"
	}
	if strings.TrimSpace(cfg.Token) == "" {
		cfg.Token = "VOTE"
	}
	if cfg.Genesis.Balances == nil {
		cfg.Genesis.Balances = map[string]string{}
	}
}

// Validate enforces the same invariants the registry applies at bootstrap so
// a bad config fails at startup rather than on the first deploy.
func (c *Config) Validate() error {
	if c.Genesis.FeeRateBps > 1000 {
		return fmt.Errorf("config: Genesis.FeeRateBps %d exceeds 1000", c.Genesis.FeeRateBps)
	}
	for name, value := range map[string]string{
		"Genesis.Admin":           c.Genesis.Admin,
		"Genesis.FeeRecipient":    c.Genesis.FeeRecipient,
		"Genesis.RescueRecipient": c.Genesis.RescueRecipient,
	} {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for addr := range c.Genesis.Balances {
		if _, err := ParseAddress(addr); err != nil {
			return fmt.Errorf("config: Genesis.Balances key %q: %w", addr, err)
		}
	}
	return nil
}

// ParseAddress decodes a hex-encoded 20-byte address.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("address %q must be 20 bytes", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	// A zero admin is unusable; the operator must fill the genesis block in
	// before the first deploy succeeds.
	cfg.Genesis.Admin = strings.Repeat("00", 20)
	cfg.Genesis.FeeRecipient = cfg.Genesis.Admin
	cfg.Genesis.RescueRecipient = cfg.Genesis.Admin

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
