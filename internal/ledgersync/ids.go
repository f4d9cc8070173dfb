package ledgersync

import (
	"strconv"
	"strings"

	"supplyTrace/internal/apperr"
)

// ParseLedgerID parses the decimal form of a ledger id. Ids are capped at
// MaxInt64, the largest value the mirror's BIGINT columns hold.
func ParseLedgerID(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, apperr.Validation("productId is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 63)
	if err != nil {
		return 0, apperr.Validation("invalid productId %q", raw)
	}
	return id, nil
}

func required(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", apperr.Validation("%s is required", field)
	}
	return trimmed, nil
}
