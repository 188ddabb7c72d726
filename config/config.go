package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"paygrid/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress           string  `toml:"RPCAddress"`
	DataDir              string  `toml:"DataDir"`
	OperatorKeystorePath string  `toml:"OperatorKeystorePath"`
	Genesis              Genesis `toml:"Genesis"`
}

// Genesis carries the payments configuration applied on first start. Admin
// and FeeRecipient are bech32 strings; empty values fall back to the
// operator key's address.
type Genesis struct {
	Admin              string       `toml:"Admin"`
	FeeRecipient       string       `toml:"FeeRecipient"`
	ProtocolFeeBps     uint16       `toml:"ProtocolFeeBps"`
	MaxPoliciesPerUser uint32       `toml:"MaxPoliciesPerUser"`
	Allocations        []Allocation `toml:"Allocations"`
}

// Allocation seeds one holder balance at first start. Balance is a decimal
// string in base units.
type Allocation struct {
	Owner   string `toml:"Owner"`
	Mint    string `toml:"Mint"`
	Balance string `toml:"Balance"`
}

// Load loads the configuration from the given path, creating a default file
// (and operator keystore) when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./paygrid-data"
	}
	if cfg.Genesis.MaxPoliciesPerUser == 0 {
		cfg.Genesis.MaxPoliciesPerUser = 10
	}
}

// Validate rejects values the node would refuse at bootstrap.
func (c *Config) Validate() error {
	if c.Genesis.ProtocolFeeBps > 10_000 {
		return fmt.Errorf("genesis: ProtocolFeeBps %d exceeds 10000", c.Genesis.ProtocolFeeBps)
	}
	if c.Genesis.MaxPoliciesPerUser == 0 {
		return fmt.Errorf("genesis: MaxPoliciesPerUser must be positive")
	}
	if strings.TrimSpace(c.Genesis.Admin) != "" {
		if _, err := crypto.ParseAddress(c.Genesis.Admin); err != nil {
			return fmt.Errorf("genesis: Admin: %w", err)
		}
	}
	if strings.TrimSpace(c.Genesis.FeeRecipient) != "" {
		if _, err := crypto.ParseAddress(c.Genesis.FeeRecipient); err != nil {
			return fmt.Errorf("genesis: FeeRecipient: %w", err)
		}
	}
	for i, alloc := range c.Genesis.Allocations {
		if _, _, _, err := alloc.Parse(); err != nil {
			return fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
	}
	return nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveOperatorKey(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveOperatorKey(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress: ":8080",
		DataDir:    "./paygrid-data",
		Genesis: Genesis{
			ProtocolFeeBps:     250,
			MaxPoliciesPerUser: 10,
		},
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
