package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"supplyTrace/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "tracker",
		Short:        "Supply-chain ledger mirror",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
	addLedgerFlags(serveCmd.Flags())
	addMirrorFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", ":5000", "HTTP listen address")
	serveCmd.Flags().String("qr-base-url", "http://localhost:3000/product/", "URL prefix encoded into product QR codes")
	serveCmd.Flags().Int("qr-size", 256, "QR image size in pixels")
	serveCmd.Flags().Int("read-retries", 3, "retries for ledger reads")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().String("failure-journal", "./data/mirror_failures.jsonl", "JSONL file for mirror writes lost after confirmation (empty disables)")
	root.AddCommand(serveCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create mirror tables and indexes",
		RunE:  runMigrate,
	}
	addMirrorFlags(migrateCmd.Flags())
	root.AddCommand(migrateCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Backfill the mirror from contract logs",
		RunE:  runSync,
	}
	addLedgerFlags(syncCmd.Flags())
	addMirrorFlags(syncCmd.Flags())
	syncCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	syncCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	syncCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	syncCmd.Flags().String("checkpoint", "", "checkpoint file path (empty keeps progress in the mirror)")
	syncCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	syncCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	syncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addLedgerFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "http://127.0.0.1:8545", "ledger RPC URL")
	flags.String("contract", config.DefaultContract, "contract address")
	flags.String("contract-info", "", "deployment file with contract address and abi")
	flags.String("private-key", "", "hex private key used to submit operations")
	flags.Duration("finalization-timeout", 2*time.Minute, "maximum wait for a submitted operation")
	flags.Uint64("confirmations", 0, "blocks to wait after inclusion")
	flags.Duration("poll-interval", time.Second, "receipt polling interval")
}

func addMirrorFlags(flags *pflag.FlagSet) {
	flags.String("mirror-driver", "sqlite", "mirror backend (sqlite, postgres)")
	flags.String("mirror-dsn", "./data/supply_chain.db", "sqlite path or Postgres DSN")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
