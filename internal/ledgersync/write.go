package ledgersync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/chain"
	"supplyTrace/internal/facts"
	"supplyTrace/internal/model"
	"supplyTrace/internal/storage"
)

type RegisterInput struct {
	Name     string
	Origin   string
	Category string
}

// Registration is the outcome of a finalized registration.
type Registration struct {
	LedgerID uint64
	QRImage  string
	TxHash   string
}

// Register records a new product on the ledger and mirrors it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	name, err := required("name", in.Name)
	if err != nil {
		return Registration{}, err
	}
	origin, err := required("origin", in.Origin)
	if err != nil {
		return Registration{}, err
	}
	category, err := required("category", in.Category)
	if err != nil {
		return Registration{}, err
	}

	receipt, err := s.execute(ctx, OpRegister, chain.RegisterProduct(name, origin, category))
	if err != nil {
		return Registration{}, err
	}
	txHash := receipt.TxHash.Hex()
	// The ledger has committed; the caller going away must not lose the mirror rows.
	mctx := context.WithoutCancel(ctx)

	logs := s.ledger.ReceiptFacts(receipt)
	registered, ok := facts.FirstRegistered(s.decoder.Decode(logs))
	if !ok {
		s.metrics.FactNotFound()
		s.logger.Error("finalized registration carried no registration fact",
			zap.String("tx_hash", txHash),
			zap.Int("logs", len(logs)),
		)
		return Registration{}, apperr.New(apperr.KindFactNotFound,
			fmt.Sprintf("transaction %s finalized without a product registration event", txHash))
	}

	product := snapshotFrom(registered, s.ledger.Agent())
	if _, err := s.insertSnapshot(mctx, product); err != nil {
		s.mirrorFailed(OpRegister, storage.Failure{LedgerID: product.LedgerID, TxHash: txHash, Product: &product}, err)
	}
	event := createdEvent(registered)
	if _, _, err := s.mirror.AppendEvent(mctx, event); err != nil {
		s.mirrorFailed(OpRegister, storage.Failure{LedgerID: product.LedgerID, TxHash: txHash, Event: &event}, err)
	}

	image, err := s.qr.ForProduct(registered.LedgerID)
	if err != nil {
		return Registration{}, apperr.Wrap(apperr.KindInternal, "failed to render qr code", err)
	}

	s.logger.Info("product registered",
		zap.Uint64("ledger_id", registered.LedgerID),
		zap.String("tx_hash", txHash),
	)
	return Registration{LedgerID: registered.LedgerID, QRImage: image, TxHash: txHash}, nil
}

type StatusInput struct {
	ProductID   string
	Status      string
	Description string
	Location    string
}

// StatusUpdate is the outcome of a finalized status change.
type StatusUpdate struct {
	LedgerID uint64
	Status   string
	TxHash   string
}

// UpdateStatus changes a product's status on the ledger and mirrors it.
// Ledger failures leave the mirror untouched.
func (s *Service) UpdateStatus(ctx context.Context, in StatusInput) (StatusUpdate, error) {
	ledgerID, err := ParseLedgerID(in.ProductID)
	if err != nil {
		return StatusUpdate{}, err
	}
	status, err := required("status", in.Status)
	if err != nil {
		return StatusUpdate{}, err
	}

	receipt, err := s.execute(ctx, OpUpdateStatus, chain.UpdateProductStatus(ledgerID, status))
	if err != nil {
		return StatusUpdate{}, err
	}
	txHash := receipt.TxHash.Hex()
	mctx := context.WithoutCancel(ctx)

	var source *model.FactSource
	if changed, ok := facts.FirstStatusChanged(s.decoder.Decode(s.ledger.ReceiptFacts(receipt))); ok {
		src := changed.Source()
		source = &src
	}

	// A recorded status event means its status was applied, so the event is
	// only written once the snapshot is. A replay then repairs both.
	event := statusEvent(ledgerID, status, in.Description, in.Location, source)
	if err := s.updateSnapshot(mctx, ledgerID, status); err != nil {
		s.mirrorFailed(OpUpdateStatus, storage.Failure{LedgerID: ledgerID, TxHash: txHash, Event: &event}, err)
	} else if _, _, err := s.mirror.AppendEvent(mctx, event); err != nil {
		s.mirrorFailed(OpUpdateStatus, storage.Failure{LedgerID: ledgerID, TxHash: txHash, Event: &event}, err)
	}

	s.logger.Info("product status updated",
		zap.Uint64("ledger_id", ledgerID),
		zap.String("status", status),
		zap.String("tx_hash", txHash),
	)
	return StatusUpdate{LedgerID: ledgerID, Status: status, TxHash: txHash}, nil
}

type EventInput struct {
	ProductID   string
	EventType   string
	Description string
	Location    string
}

// AddEvent appends a caller-supplied event. The ledger is not involved.
func (s *Service) AddEvent(ctx context.Context, in EventInput) (model.Event, error) {
	ledgerID, err := ParseLedgerID(in.ProductID)
	if err != nil {
		return model.Event{}, err
	}
	eventType, err := required("eventType", in.EventType)
	if err != nil {
		return model.Event{}, err
	}
	description, err := required("description", in.Description)
	if err != nil {
		return model.Event{}, err
	}

	stored, _, err := s.mirror.AppendEvent(ctx, model.Event{
		ProductID:   ledgerID,
		EventType:   eventType,
		Description: description,
		Location:    in.Location,
	})
	if err != nil {
		s.metrics.MirrorWriteFailed(OpAddEvent)
		s.logger.Error("append event failed", zap.Uint64("ledger_id", ledgerID), zap.Error(err))
		return model.Event{}, apperr.Wrap(apperr.KindMirrorWriteFailed, "failed to store event", err)
	}
	return stored, nil
}
