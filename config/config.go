package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"loanvault/crypto"
	"loanvault/native/loan"

	"github.com/BurntSushi/toml"
)

// Allocation seeds an account balance at first start so depositors and the
// lending pool have spendable funds in development networks.
type Allocation struct {
	Address    string `toml:"Address"`
	BalanceWei string `toml:"BalanceWei"`
}

// ReserveConfig names the recipient paid by quorum-approved reserve spends.
type ReserveConfig struct {
	RecipientAddress string `toml:"RecipientAddress"`
}

type Config struct {
	RPCAddress           string        `toml:"RPCAddress"`
	DataDir              string        `toml:"DataDir"`
	NetworkName          string        `toml:"NetworkName"`
	OperatorKeystorePath string        `toml:"OperatorKeystorePath"`
	Owners               []string      `toml:"Owners"`
	QuorumThreshold      int           `toml:"QuorumThreshold"`
	PausedModules        []string      `toml:"PausedModules"`
	Loan                 loan.Config   `toml:"loan"`
	Reserve              ReserveConfig `toml:"reserve"`
	Genesis              []Allocation  `toml:"genesis"`
}

// Load loads the configuration from the given path, creating a default file
// (and operator keystore) on first start.
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

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "loanvault-local"
	}
	if cfg.Owners == nil {
		cfg.Owners = []string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the owner set and threshold before any engine is built.
func (c *Config) Validate() error {
	if c.QuorumThreshold < 1 {
		return fmt.Errorf("config: QuorumThreshold must be at least 1")
	}
	if c.QuorumThreshold > len(c.Owners) {
		return fmt.Errorf("config: QuorumThreshold %d exceeds %d configured owners", c.QuorumThreshold, len(c.Owners))
	}
	seen := make(map[string]struct{}, len(c.Owners))
	for _, raw := range c.Owners {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config: invalid owner address %q: %w", raw, err)
		}
		key := string(addr.Bytes())
		if _, dup := seen[key]; dup {
			return fmt.Errorf("config: duplicate owner address %q", raw)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// OwnerAddresses decodes the configured owner set.
func (c *Config) OwnerAddresses() ([]crypto.Address, error) {
	owners := make([]crypto.Address, 0, len(c.Owners))
	for _, raw := range c.Owners {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		owners = append(owners, addr)
	}
	return owners, nil
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
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
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

// createDefault creates and saves a default configuration file. The generated
// operator key doubles as the sole quorum owner so a fresh node is usable
// immediately.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:      ":8080",
		DataDir:         "./loanvault-data",
		NetworkName:     "loanvault-local",
		Owners:          []string{key.PubKey().Address().String()},
		QuorumThreshold: 1,
		Loan: loan.Config{
			TermSeconds:           90 * 24 * 60 * 60,
			EscrowWindowSeconds:   7 * 24 * 60 * 60,
			InterestRateBps:       500,
			MinCollateralRatioBps: 15_000,
			CommissionBps:         100,
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
