package ledgersync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/model"
)

// ApplyResult counts what ApplyFacts did.
type ApplyResult struct {
	Registered    int
	StatusChanged int
	Skipped       int
	// EventsAppended excludes replays of logs already in the mirror.
	EventsAppended int
}

// ApplyFacts writes decoded facts to the mirror in order. It stops at the
// first mirror error so callers never checkpoint past a lost write.
// Replaying facts that were already applied is a no-op.
func (s *Service) ApplyFacts(ctx context.Context, decoded []model.Fact) (ApplyResult, error) {
	var result ApplyResult
	for _, fact := range decoded {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch f := fact.(type) {
		case model.ProductRegistered:
			if _, err := s.insertSnapshot(ctx, snapshotFrom(f, f.Owner)); err != nil {
				return result, applyError(f, err)
			}
			_, appended, err := s.mirror.AppendEvent(ctx, createdEvent(f))
			if err != nil {
				return result, applyError(f, err)
			}
			if appended {
				result.EventsAppended++
			}
			result.Registered++
			s.metrics.FactApplied("registered")
		case model.ProductStatusChanged:
			// An already recorded event is a replay of an older change; its
			// status must not overwrite a newer one.
			src := f.Source()
			_, appended, err := s.mirror.AppendEvent(ctx, statusEvent(f.LedgerID, f.Status, "", "", &src))
			if err != nil {
				return result, applyError(f, err)
			}
			if appended {
				result.EventsAppended++
				if err := s.updateSnapshot(ctx, f.LedgerID, f.Status); err != nil {
					return result, applyError(f, err)
				}
			}
			result.StatusChanged++
			s.metrics.FactApplied("status_changed")
		default:
			result.Skipped++
		}
	}
	return result, nil
}

func applyError(fact model.Fact, err error) error {
	src := fact.Source()
	return apperr.Wrap(apperr.KindMirrorWriteFailed,
		fmt.Sprintf("apply fact from %s#%d", src.TxHash, src.LogIndex), err)
}

func (s *Service) insertSnapshot(ctx context.Context, product model.Product) (bool, error) {
	inserted, err := s.mirror.InsertProduct(ctx, product)
	if err != nil {
		return false, err
	}
	if !inserted {
		s.logger.Debug("snapshot already mirrored", zap.Uint64("ledger_id", product.LedgerID))
	}
	return inserted, nil
}

func (s *Service) updateSnapshot(ctx context.Context, ledgerID uint64, status string) error {
	updated, err := s.mirror.UpdateProductStatus(ctx, ledgerID, status)
	if err != nil {
		return err
	}
	if !updated {
		s.logger.Debug("no snapshot to update", zap.Uint64("ledger_id", ledgerID))
	}
	return nil
}

func snapshotFrom(fact model.ProductRegistered, owner string) model.Product {
	return model.Product{
		LedgerID: fact.LedgerID,
		Name:     fact.Name,
		Origin:   fact.Origin,
		Category: fact.Category,
		Status:   model.StatusCreated,
		Owner:    owner,
	}
}

func createdEvent(fact model.ProductRegistered) model.Event {
	src := fact.Source()
	return model.Event{
		ProductID:   fact.LedgerID,
		EventType:   model.EventTypeCreated,
		Description: fmt.Sprintf("Product %s created", fact.Name),
		Location:    fact.Origin,
		Source:      &src,
	}
}

func statusEvent(ledgerID uint64, status, description, location string, source *model.FactSource) model.Event {
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Status updated to %s", status)
	}
	return model.Event{
		ProductID:   ledgerID,
		EventType:   model.EventTypeStatusUpdate,
		Description: description,
		Location:    location,
		Source:      source,
	}
}
