package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"pawnpool/crypto"
	"pawnpool/observability/logging"
)

// Environment variables consulted for secrets that should not live in the
// configuration file.
const (
	EnvRPCToken      = "PAWND_RPC_TOKEN"
	EnvCustodyToken  = "PAWND_CUSTODY_TOKEN"
	EnvCustodySecret = "PAWND_CUSTODY_SECRET"
)

type Config struct {
	RPCAddress    string   `toml:"RPCAddress"`
	DataDir       string   `toml:"DataDir"`
	Environment   string   `toml:"Environment"`
	OwnerAddress  string   `toml:"OwnerAddress"`
	VaultAddress  string   `toml:"VaultAddress"`
	RPCAuthToken  string   `toml:"RPCAuthToken,omitempty"`
	RateLimit     float64  `toml:"RateLimit"`
	RateBurst     int      `toml:"RateBurst"`
	PausedModules []string `toml:"PausedModules"`

	Loan    LoanConfig    `toml:"loan"`
	Custody CustodyConfig `toml:"custody"`
}

// LoanConfig carries the ledger parameters seeded into a fresh pool.
type LoanConfig struct {
	Commission    uint64 `toml:"Commission"`
	RestrictSeize bool   `toml:"RestrictSeize"`
}

// CustodyConfig configures the bridge to the external custody service.
type CustodyConfig struct {
	BaseURL            string `toml:"BaseURL"`
	BearerToken        string `toml:"BearerToken,omitempty"`
	SharedSecretHeader string `toml:"SharedSecretHeader"`
	SharedSecretValue  string `toml:"SharedSecretValue,omitempty"`
	TLSClientCAFile    string `toml:"TLSClientCAFile"`
	AllowInsecure      bool   `toml:"AllowInsecure"`
	TimeoutSeconds     int    `toml:"TimeoutSeconds"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists. Secrets absent from the file fall back to environment
// variables.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:    ":8475",
		DataDir:       "./pawn-data",
		Environment:   "local",
		RateLimit:     50,
		RateBurst:     100,
		PausedModules: []string{},
		Loan: LoanConfig{
			Commission: 9,
		},
		Custody: CustodyConfig{
			SharedSecretHeader: "X-Custody-Secret",
			TimeoutSeconds:     10,
		},
	}
}

func (c *Config) applyEnv() {
	if strings.TrimSpace(c.RPCAuthToken) == "" {
		c.RPCAuthToken = strings.TrimSpace(os.Getenv(EnvRPCToken))
	}
	if strings.TrimSpace(c.Custody.BearerToken) == "" {
		c.Custody.BearerToken = strings.TrimSpace(os.Getenv(EnvCustodyToken))
	}
	if strings.TrimSpace(c.Custody.SharedSecretValue) == "" {
		c.Custody.SharedSecretValue = strings.TrimSpace(os.Getenv(EnvCustodySecret))
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if strings.TrimSpace(c.OwnerAddress) != "" {
		if _, err := crypto.DecodeAddress(c.OwnerAddress); err != nil {
			return fmt.Errorf("config: invalid OwnerAddress: %w", err)
		}
	}
	if strings.TrimSpace(c.VaultAddress) != "" {
		if _, err := crypto.DecodeAddress(c.VaultAddress); err != nil {
			return fmt.Errorf("config: invalid VaultAddress: %w", err)
		}
	}
	if c.Loan.Commission > 100 {
		return fmt.Errorf("config: loan commission must not exceed 100 percent")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: RateLimit must not be negative")
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("config: RateBurst must not be negative")
	}
	if c.Custody.TimeoutSeconds < 0 {
		return fmt.Errorf("config: custody TimeoutSeconds must not be negative")
	}
	return nil
}

// Owner decodes the configured pool owner address.
func (c *Config) Owner() (crypto.Address, error) {
	if strings.TrimSpace(c.OwnerAddress) == "" {
		return crypto.Address{}, fmt.Errorf("config: OwnerAddress is required")
	}
	return crypto.DecodeAddress(c.OwnerAddress)
}

// Vault decodes the configured custody vault address.
func (c *Config) Vault() (crypto.Address, error) {
	if strings.TrimSpace(c.VaultAddress) == "" {
		return crypto.Address{}, fmt.Errorf("config: VaultAddress is required")
	}
	return crypto.DecodeAddress(c.VaultAddress)
}

// DatabasePath returns the ledger database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "ledger.db")
}

// Sanitized returns a copy safe for logging: every secret is masked.
func (c *Config) Sanitized() Config {
	clone := *c
	clone.RPCAuthToken = logging.MaskValue(clone.RPCAuthToken)
	clone.Custody.BearerToken = logging.MaskValue(clone.Custody.BearerToken)
	clone.Custody.SharedSecretValue = logging.MaskValue(clone.Custody.SharedSecretValue)
	clone.PausedModules = append([]string{}, c.PausedModules...)
	return clone
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
