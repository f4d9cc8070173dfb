package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// SyncConfig holds configuration for the backfill command.
type SyncConfig struct {
	Config
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
}

// LoadSync merges config file, environment variables, and flags into SyncConfig.
// An empty checkpoint path keeps progress in the mirror itself.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return SyncConfig{}, err
	}
	cfg := SyncConfig{
		Config:            fromViper(v),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
	}
	if err := cfg.validate(); err != nil {
		return SyncConfig{}, err
	}
	if cfg.BatchSize == 0 {
		return SyncConfig{}, fmt.Errorf("batch-size must be greater than zero")
	}
	if cfg.ToBlock != 0 && cfg.ToBlock < cfg.FromBlock {
		return SyncConfig{}, fmt.Errorf("to block %d is before from block %d", cfg.ToBlock, cfg.FromBlock)
	}
	return cfg, nil
}
