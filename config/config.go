package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"gopkg.in/yaml.v3"
)

// Config represents the relayer configuration.
type Config struct {
	RPC struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"rpc"`

	Network struct {
		Passphrase string `yaml:"passphrase"`
	} `yaml:"network"`

	Relayer struct {
		SecretKey string `yaml:"secret_key"`
	} `yaml:"relayer"`

	Contracts struct {
		Voting     string `yaml:"voting"`
		Tree       string `yaml:"tree"`
		Comments   string `yaml:"comments"`
		Registry   string `yaml:"registry"`
		Membership string `yaml:"membership"`
	} `yaml:"contracts"`

	Indexer struct {
		PollIntervalMS int `yaml:"poll_interval_ms"`
	} `yaml:"indexer"`

	Sync struct {
		OrgIntervalMS        int `yaml:"org_interval_ms"`
		MembershipIntervalMS int `yaml:"membership_interval_ms"`
	} `yaml:"sync"`

	Storage struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"storage"`

	Health struct {
		Port int `yaml:"port"`
	} `yaml:"health"`
}

// LoadConfig loads configuration from a YAML file, applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployment environments supply secrets and the RPC
// endpoint without writing them into the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RELAYER_SECRET_KEY"); v != "" {
		c.Relayer.SecretKey = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		c.RPC.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.RPC.TimeoutMS == 0 {
		c.RPC.TimeoutMS = 10000
	}
	if c.Indexer.PollIntervalMS == 0 {
		c.Indexer.PollIntervalMS = 5000
	}
	if c.Sync.OrgIntervalMS == 0 {
		c.Sync.OrgIntervalMS = 30000
	}
	if c.Sync.MembershipIntervalMS == 0 {
		c.Sync.MembershipIntervalMS = 600000
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Health.Port == 0 {
		c.Health.Port = 8088
	}
}

// Validate checks the configuration once at startup. Any failure here is
// fatal: the relayer cannot run with a partial configuration.
func (c *Config) Validate() error {
	if c.RPC.URL == "" {
		return fmt.Errorf("invalid config: rpc.url is required")
	}
	if c.Network.Passphrase == "" {
		return fmt.Errorf("invalid config: network.passphrase is required")
	}
	if c.Relayer.SecretKey == "" {
		return fmt.Errorf("invalid config: relayer.secret_key is required (or set RELAYER_SECRET_KEY)")
	}
	if _, err := keypair.ParseFull(c.Relayer.SecretKey); err != nil {
		return fmt.Errorf("invalid config: relayer.secret_key is not a valid ed25519 seed: %w", err)
	}

	required := map[string]string{
		"contracts.voting":   c.Contracts.Voting,
		"contracts.tree":     c.Contracts.Tree,
		"contracts.comments": c.Contracts.Comments,
	}
	for name, id := range required {
		if id == "" {
			return fmt.Errorf("invalid config: %s is required", name)
		}
		if err := ValidateContractID(id); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}

	optional := map[string]string{
		"contracts.registry":   c.Contracts.Registry,
		"contracts.membership": c.Contracts.Membership,
	}
	for name, id := range optional {
		if id == "" {
			continue
		}
		if err := ValidateContractID(id); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}

	return nil
}

// ValidateContractID checks that id is a well-formed Soroban contract
// address: 56 characters of strkey base32 starting with 'C'.
func ValidateContractID(id string) error {
	if len(id) != 56 {
		return fmt.Errorf("contract id must be 56 characters, got %d", len(id))
	}
	if id[0] != 'C' {
		return fmt.Errorf("contract id must start with 'C'")
	}
	if _, err := strkey.Decode(strkey.VersionByteContract, id); err != nil {
		return fmt.Errorf("contract id is not valid strkey: %w", err)
	}
	return nil
}

// RPCTimeout returns the per-call deadline for chain RPC requests.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPC.TimeoutMS) * time.Millisecond
}

// PollInterval returns the indexer poll cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Indexer.PollIntervalMS) * time.Millisecond
}

// OrgSyncInterval returns the organization sync cadence.
func (c *Config) OrgSyncInterval() time.Duration {
	return time.Duration(c.Sync.OrgIntervalMS) * time.Millisecond
}

// MembershipSyncInterval returns the membership sync cadence.
func (c *Config) MembershipSyncInterval() time.Duration {
	return time.Duration(c.Sync.MembershipIntervalMS) * time.Millisecond
}

// DatabasePath returns the location of the embedded store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataDir, "relayer.db")
}

// WatchedContracts returns every configured contract id the indexer should
// poll for events.
func (c *Config) WatchedContracts() []string {
	ids := []string{c.Contracts.Voting, c.Contracts.Tree, c.Contracts.Comments}
	if c.Contracts.Registry != "" {
		ids = append(ids, c.Contracts.Registry)
	}
	if c.Contracts.Membership != "" {
		ids = append(ids, c.Contracts.Membership)
	}
	return ids
}
