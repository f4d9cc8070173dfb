// Package ledgersync keeps the mirror in step with the supply-chain contract.
// Every state change goes to the ledger first; the mirror is written only
// after finalization and its failures never undo ledger truth.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/chain"
	"supplyTrace/internal/facts"
	"supplyTrace/internal/metrics"
	"supplyTrace/internal/model"
	"supplyTrace/internal/qr"
	"supplyTrace/internal/storage"
)

// Operation names used in logs, metrics and the failure journal.
const (
	OpRegister     = "register"
	OpUpdateStatus = "update_status"
	OpAddEvent     = "add_event"
	OpApplyFacts   = "apply_facts"
)

// Ledger is the subset of chain.Ledger the service drives.
type Ledger interface {
	Agent() string
	Submit(ctx context.Context, op chain.Operation) (chain.Pending, error)
	AwaitFinalization(ctx context.Context, pending chain.Pending) (*types.Receipt, error)
	ReadCurrent(ctx context.Context, ledgerID uint64) (model.LedgerRecord, bool, error)
	ReceiptFacts(receipt *types.Receipt) []*types.Log
}

// Journal records mirror writes lost after ledger confirmation.
type Journal interface {
	Record(failures ...storage.Failure) error
}

// Config tunes read retries.
type Config struct {
	ReadRetries  int
	RetryBackoff time.Duration
}

// Deps are the collaborators of a Service. Journal and Metrics are optional.
type Deps struct {
	Ledger  Ledger
	Decoder *facts.Decoder
	Mirror  storage.Mirror
	QR      qr.Encoder
	Journal Journal
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// Service is the synchronization orchestrator behind the HTTP API and the
// backfill runner. It holds no per-request state and is safe for concurrent use.
type Service struct {
	ledger  Ledger
	decoder *facts.Decoder
	mirror  storage.Mirror
	qr      qr.Encoder
	journal Journal
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     Config
}

func NewService(deps Deps, cfg Config) (*Service, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("fact decoder is nil")
	}
	if deps.Mirror == nil {
		return nil, fmt.Errorf("mirror is nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.ReadRetries < 0 {
		cfg.ReadRetries = 0
	}
	return &Service{
		ledger:  deps.Ledger,
		decoder: deps.Decoder,
		mirror:  deps.Mirror,
		qr:      deps.QR,
		journal: deps.Journal,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		cfg:     cfg,
	}, nil
}

// execute submits op and waits for finalization.
func (s *Service) execute(ctx context.Context, name string, op chain.Operation) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := s.submitAndAwait(ctx, op)
	if err != nil {
		err = ledgerError(err)
		s.metrics.LedgerOp(name, string(apperr.KindOf(err)), time.Since(start))
		s.logger.Warn("ledger operation failed",
			zap.String("op", name),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.LedgerOp(name, metrics.OutcomeOK, time.Since(start))
	s.logger.Debug("ledger operation finalized",
		zap.String("op", name),
		zap.String("tx_hash", receipt.TxHash.Hex()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return receipt, nil
}

func (s *Service) submitAndAwait(ctx context.Context, op chain.Operation) (*types.Receipt, error) {
	pending, err := s.ledger.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	return s.ledger.AwaitFinalization(ctx, pending)
}

// mirrorFailed handles a mirror write that failed after the ledger confirmed.
// The error is logged, counted and journaled; it is never returned.
func (s *Service) mirrorFailed(op string, failure storage.Failure, err error) {
	s.metrics.MirrorWriteFailed(op)
	s.logger.Error("mirror write failed after ledger confirmation",
		zap.String("op", op),
		zap.Uint64("ledger_id", failure.LedgerID),
		zap.String("tx_hash", failure.TxHash),
		zap.Error(err),
	)
	if s.journal == nil {
		return
	}
	failure.Op = op
	failure.Error = err.Error()
	if jerr := s.journal.Record(failure); jerr != nil {
		s.logger.Error("failure journal write failed", zap.String("op", op), zap.Error(jerr))
	}
}

// ledgerError classifies errors that arrive without a kind.
func ledgerError(err error) error {
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindLedgerTimeout, "ledger operation did not finalize in time", err)
	}
	return apperr.Wrap(apperr.KindLedgerUnreachable, "ledger unreachable", err)
}
