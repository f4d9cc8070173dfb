package ledgersync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/model"
	"supplyTrace/internal/retry"
)

// ProductView is the ledger's current record plus a fresh QR code.
type ProductView struct {
	Product model.LedgerRecord
	QRImage string
}

// GetProduct reads a product straight from the ledger. The mirror is not
// consulted.
func (s *Service) GetProduct(ctx context.Context, rawID string) (ProductView, error) {
	ledgerID, err := ParseLedgerID(rawID)
	if err != nil {
		return ProductView{}, err
	}

	var (
		record model.LedgerRecord
		found  bool
	)
	err = retry.DoIf(ctx, s.cfg.ReadRetries, s.cfg.RetryBackoff, isUnreachable, func(ctx context.Context) error {
		var readErr error
		record, found, readErr = s.ledger.ReadCurrent(ctx, ledgerID)
		if readErr != nil {
			readErr = ledgerError(readErr)
			s.logger.Debug("ledger read failed", zap.Uint64("ledger_id", ledgerID), zap.Error(readErr))
		}
		return readErr
	})
	if err != nil {
		return ProductView{}, ledgerError(err)
	}
	if !found {
		return ProductView{}, apperr.New(apperr.KindNotFound, fmt.Sprintf("product %d not found", ledgerID))
	}

	image, err := s.qr.ForProduct(ledgerID)
	if err != nil {
		return ProductView{}, apperr.Wrap(apperr.KindInternal, "failed to render qr code", err)
	}
	return ProductView{Product: record, QRImage: image}, nil
}

// History lists a product's mirror events, oldest first.
func (s *Service) History(ctx context.Context, rawID string) ([]model.Event, error) {
	ledgerID, err := ParseLedgerID(rawID)
	if err != nil {
		return nil, err
	}
	events, err := s.mirror.History(ctx, ledgerID)
	if err != nil {
		s.logger.Error("load history failed", zap.Uint64("ledger_id", ledgerID), zap.Error(err))
		return nil, apperr.Wrap(apperr.KindMirrorWriteFailed, "failed to load history", err)
	}
	return events, nil
}

// Products lists every mirrored snapshot, newest registration first.
func (s *Service) Products(ctx context.Context) ([]model.Product, error) {
	products, err := s.mirror.Products(ctx)
	if err != nil {
		s.logger.Error("load products failed", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindMirrorWriteFailed, "failed to load products", err)
	}
	return products, nil
}

func isUnreachable(err error) bool {
	return apperr.Is(err, apperr.KindLedgerUnreachable)
}
