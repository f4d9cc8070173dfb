package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TRACKER"

// Mirror drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const DefaultContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// Config holds configuration values loaded from flags, env, or config file.
// It is built once at startup and passed by value.
type Config struct {
	Listen              string
	RPCURL              string
	Contract            string
	ContractInfo        string
	PrivateKey          string
	MirrorDriver        string
	MirrorDSN           string
	QRBaseURL           string
	QRSize              int
	FinalizationTimeout time.Duration
	Confirmations       uint64
	PollInterval        time.Duration
	ReadRetries         int
	RetryBackoff        time.Duration
	FailureJournal      string
	LogLevel            string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	cfg := fromViper(v)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":5000")
	v.SetDefault("rpc", "http://127.0.0.1:8545")
	v.SetDefault("contract", DefaultContract)
	v.SetDefault("mirror-driver", DriverSQLite)
	v.SetDefault("mirror-dsn", "./data/supply_chain.db")
	v.SetDefault("qr-base-url", "http://localhost:3000/product/")
	v.SetDefault("qr-size", 256)
	v.SetDefault("finalization-timeout", 2*time.Minute)
	v.SetDefault("confirmations", uint64(0))
	v.SetDefault("poll-interval", time.Second)
	v.SetDefault("read-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("failure-journal", "./data/mirror_failures.jsonl")
	v.SetDefault("log-level", "info")

	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Listen:              v.GetString("listen"),
		RPCURL:              v.GetString("rpc"),
		Contract:            strings.TrimSpace(v.GetString("contract")),
		ContractInfo:        v.GetString("contract-info"),
		PrivateKey:          strings.TrimSpace(v.GetString("private-key")),
		MirrorDriver:        strings.ToLower(strings.TrimSpace(v.GetString("mirror-driver"))),
		MirrorDSN:           v.GetString("mirror-dsn"),
		QRBaseURL:           v.GetString("qr-base-url"),
		QRSize:              v.GetInt("qr-size"),
		FinalizationTimeout: v.GetDuration("finalization-timeout"),
		Confirmations:       v.GetUint64("confirmations"),
		PollInterval:        v.GetDuration("poll-interval"),
		ReadRetries:         v.GetInt("read-retries"),
		RetryBackoff:        v.GetDuration("retry-backoff"),
		FailureJournal:      v.GetString("failure-journal"),
		LogLevel:            v.GetString("log-level"),
	}
}

func (c Config) validate() error {
	switch c.MirrorDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported mirror driver %q (want %s or %s)", c.MirrorDriver, DriverSQLite, DriverPostgres)
	}
	if c.MirrorDSN == "" {
		return fmt.Errorf("mirror-dsn is required")
	}
	if c.FinalizationTimeout <= 0 {
		return fmt.Errorf("finalization-timeout must be positive")
	}
	if c.ReadRetries < 0 {
		return fmt.Errorf("read-retries must not be negative")
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.PrivateKey != "" {
		c.PrivateKey = "***"
	}
	return c
}
