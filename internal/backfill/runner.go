// Package backfill replays the contract's product events over a block range
// into the mirror. Progress is checkpointed per batch only after the batch's
// facts were applied.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"supplyTrace/internal/facts"
	"supplyTrace/internal/ledgersync"
	"supplyTrace/internal/model"
	"supplyTrace/internal/retry"
)

// RunConfig holds runtime settings for a backfill.
type RunConfig struct {
	FromBlock    uint64
	ToBlock      uint64 // 0 means the latest block
	Addresses    []common.Address
	Topic0       []common.Hash
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// LogSource is the slice of chain.Client the runner reads from.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Applier writes decoded facts to the mirror.
type Applier interface {
	ApplyFacts(ctx context.Context, decoded []model.Fact) (ledgersync.ApplyResult, error)
}

// Summary totals a run.
type Summary struct {
	From    uint64
	To      uint64
	Batches int
	Logs    int
	Applied ledgersync.ApplyResult
}

// Runner streams contract logs and applies them to the mirror.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	decoder    *facts.Decoder
	applier    Applier
	checkpoint Checkpointer
	logger     *zap.Logger
}

// NewRunner builds a Runner. checkpoint may be nil to always start at FromBlock.
func NewRunner(cfg RunConfig, source LogSource, decoder *facts.Decoder, applier Applier, checkpoint Checkpointer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		decoder:    decoder,
		applier:    applier,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// Run executes the backfill loop.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var summary Summary
	if r.source == nil {
		return summary, fmt.Errorf("log source is nil")
	}
	if r.decoder == nil || r.applier == nil {
		return summary, fmt.Errorf("decoder and applier are required")
	}
	if r.cfg.BatchSize == 0 {
		return summary, fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return summary, fmt.Errorf("at least one address is required")
	}

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.source.LatestBlockNumber(ctx)
		if err != nil {
			return summary, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	if r.checkpoint != nil {
		last, ok, err := r.checkpoint.Load(ctx)
		if err != nil {
			return summary, err
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}
	summary.From, summary.To = from, to

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return summary, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
		if err != nil {
			return summary, fmt.Errorf("filter logs: %w", err)
		}

		ptrs := make([]*types.Log, 0, len(logs))
		for i := range logs {
			if logs[i].Removed {
				continue
			}
			ptrs = append(ptrs, &logs[i])
		}

		result, err := r.applier.ApplyFacts(ctx, r.decoder.Decode(ptrs))
		summary.Applied = addResults(summary.Applied, result)
		if err != nil {
			return summary, fmt.Errorf("apply blocks %d-%d: %w", blockRange.From, blockRange.To, err)
		}

		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, blockRange.To); err != nil {
				return summary, err
			}
		}
		summary.Batches++
		summary.Logs += len(ptrs)

		r.logger.Info("batch complete",
			zap.Int("logs", len(ptrs)),
			zap.Int("registered", result.Registered),
			zap.Int("status_changed", result.StatusChanged),
			zap.Int("events_appended", result.EventsAppended),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}

	return summary, nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Addresses, r.cfg.Topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func addResults(a, b ledgersync.ApplyResult) ledgersync.ApplyResult {
	return ledgersync.ApplyResult{
		Registered:     a.Registered + b.Registered,
		StatusChanged:  a.StatusChanged + b.StatusChanged,
		Skipped:        a.Skipped + b.Skipped,
		EventsAppended: a.EventsAppended + b.EventsAppended,
	}
}
