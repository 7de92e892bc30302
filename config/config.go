// Package config loads the node configuration: baked-in defaults, then
// an optional TOML file, then environment variables, each layer
// overriding the previous one.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"zkrollup-node/common"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator"
)

// Duration is a time.Duration with TOML and env decoding
type Duration struct {
	time.Duration
}

// UnmarshalText unmarshals a duration string like "10s"
func (d *Duration) UnmarshalText(data []byte) error {
	duration, err := time.ParseDuration(string(data))
	if err != nil {
		return common.Wrap(err)
	}
	d.Duration = duration
	return nil
}

// Config is the node configuration
type Config struct {
	API struct {
		// Address where the API server listens, e.g. 0.0.0.0:8080
		Address string `validate:"required" env:"ZKNODE_API_ADDRESS"`
		// MaxSQLConnections bounds concurrent API queries
		MaxSQLConnections int `validate:"required,gt=0" env:"ZKNODE_API_MAX_SQL_CONNECTIONS"`
		// SQLConnectionTimeout is the wait bound for an API query slot
		SQLConnectionTimeout Duration `env:"ZKNODE_API_SQL_CONNECTION_TIMEOUT"`
	}
	StateDB struct {
		// Depth is the number of levels of the account tree
		Depth int `validate:"required,gt=0" env:"ZKNODE_STATEDB_DEPTH"`
	}
	PostgreSQL struct {
		// URL of the postgres database
		URL string `validate:"required" env:"DATABASE_URL"`
	}
	Web3 struct {
		// URL of the L1 JSON-RPC node
		URL string `validate:"required" env:"ZKNODE_WEB3_URL"`
		// RollupAddress is the address of the rollup contract
		RollupAddress string `validate:"required" env:"ZKNODE_ROLLUP_ADDRESS"`
		// PrivateKey is the hex private key of the sequencer account
		PrivateKey string `validate:"required" env:"ZKNODE_PRIVATE_KEY"`
		// EventPollInterval is the L1 log polling interval
		EventPollInterval Duration `validate:"required" env:"ZKNODE_WEB3_EVENT_POLL_INTERVAL"`
	}
	Coordinator struct {
		// ForgeInterval is the time between forge rounds
		ForgeInterval Duration `validate:"required" env:"ZKNODE_FORGE_INTERVAL"`
		Prover        struct {
			// URL of the proof server
			URL string `validate:"required" env:"ZKNODE_PROVER_URL"`
			// PollInterval between proof server status checks
			PollInterval Duration `validate:"required" env:"ZKNODE_PROVER_POLL_INTERVAL"`
			// WaitTimeout bounds one proof computation, 0 for no bound
			WaitTimeout Duration `env:"ZKNODE_PROVER_WAIT_TIMEOUT"`
		}
	}
	Log struct {
		// Level is the minimum level to emit: debug, info, warn, error
		Level string `validate:"required" env:"ZKNODE_LOG_LEVEL"`
		// Out is the list of log sinks
		Out []string `validate:"required" env:"ZKNODE_LOG_OUT" envSeparator:","`
	}
}

// DefaultValues is the default TOML configuration
const DefaultValues = `
[API]
Address = "0.0.0.0:8080"
MaxSQLConnections = 100
SQLConnectionTimeout = "2s"

[StateDB]
Depth = 4

[Web3]
EventPollInterval = "5s"

[Coordinator]
ForgeInterval = "10s"

[Coordinator.Prover]
PollInterval = "1s"
WaitTimeout = "10m"

[Log]
Level = "info"
Out = ["stdout"]
`

func loadDefault(cfg *Config) error {
	if _, err := toml.Decode(DefaultValues, cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	bs, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return common.Wrap(err)
	}
	if _, err := toml.Decode(string(bs), cfg); err != nil {
		return common.Wrap(err)
	}
	return nil
}

// Load composes the configuration from defaults, the optional TOML file
// at path and the environment, then validates it.  A validation failure
// is fatal for the caller; nothing can run unconfigured.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := loadDefault(&cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error loading default configuration: %w", err))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, common.Wrap(fmt.Errorf("error loading configuration file: %w", err))
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error loading environment variables: %w", err))
	}
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, common.Wrap(fmt.Errorf("error validating configuration: %w", err))
	}
	return &cfg, nil
}
