package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"supplyTrace/internal/backfill"
	"supplyTrace/internal/chain"
	"supplyTrace/internal/config"
	"supplyTrace/internal/ledgersync"
)

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := connectLedger(ctx, cfg.Config, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	// Backfill never submits, so the ledger stays read-only.
	ledger, err := chain.NewLedger(ctx, stack.client, chain.LedgerConfig{Contract: stack.contract}, logger.Named("ledger"))
	if err != nil {
		return err
	}

	mirror, err := openMirror(ctx, cfg.MirrorDriver, cfg.MirrorDSN)
	if err != nil {
		return err
	}
	defer mirror.Close()

	svc, err := ledgersync.NewService(ledgersync.Deps{
		Ledger:  ledger,
		Decoder: stack.decoder,
		Mirror:  mirror,
		Logger:  logger.Named("sync"),
	}, ledgersync.Config{})
	if err != nil {
		return err
	}

	var checkpoint backfill.Checkpointer
	if cfg.CheckpointEnabled {
		if cfg.Checkpoint != "" {
			checkpoint = backfill.NewFileCheckpoint(cfg.Checkpoint)
		} else {
			checkpoint = backfill.NewMirrorCheckpoint(mirror, backfill.CheckpointName(stack.contract.Address.Hex()))
		}
	}

	topic0 := chain.EventTopics(stack.contract.ABI)
	runner := backfill.NewRunner(backfill.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		Addresses:    []common.Address{stack.contract.Address},
		Topic0:       topic0,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, stack.client, stack.decoder, svc, checkpoint, logger.Named("backfill"))

	logger.Info("sync start",
		zap.String("contract", stack.contract.Address.Hex()),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("sync done",
		zap.Uint64("from", summary.From),
		zap.Uint64("to", summary.To),
		zap.Int("batches", summary.Batches),
		zap.Int("logs", summary.Logs),
		zap.Int("registered", summary.Applied.Registered),
		zap.Int("status_changed", summary.Applied.StatusChanged),
		zap.Int("skipped", summary.Applied.Skipped),
		zap.Int("events_appended", summary.Applied.EventsAppended),
	)
	return nil
}
