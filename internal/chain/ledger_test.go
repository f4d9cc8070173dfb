package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"supplyTrace/internal/apperr"
)

func TestRecordFromOutput(t *testing.T) {
	owner := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	record, err := recordFromOutput(7, []interface{}{"Apples", "Farm A", "Produce", "In Transit", owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.LedgerID != 7 || record.Name != "Apples" || record.Status != "In Transit" {
		t.Fatalf("record mismatch: %+v", record)
	}
	if record.Owner != owner.Hex() {
		t.Fatalf("owner mismatch: %s", record.Owner)
	}
}

func TestRecordFromOutputShape(t *testing.T) {
	if _, err := recordFromOutput(1, []interface{}{"a", "b"}); err == nil {
		t.Fatalf("expected error for short output")
	}
	if _, err := recordFromOutput(1, []interface{}{"a", "b", "c", "d", "not-an-address"}); err == nil {
		t.Fatalf("expected error for bad owner type")
	}
}

func TestParsePrivateKey(t *testing.T) {
	// First default hardhat account.
	key, err := parsePrivateKey("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.D.Sign() == 0 {
		t.Fatalf("empty key")
	}
	if _, err := parsePrivateKey("zz"); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestUpdateProductStatusArgs(t *testing.T) {
	op := UpdateProductStatus(42, "Delivered")
	if op.Method != "updateProduct" {
		t.Fatalf("method mismatch: %s", op.Method)
	}
	id, ok := op.Args[0].(*big.Int)
	if !ok || id.Uint64() != 42 {
		t.Fatalf("id arg mismatch: %v", op.Args[0])
	}

	parsed, err := SupplyChainABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	if _, err := parsed.Pack(op.Method, op.Args...); err != nil {
		t.Fatalf("pack update: %v", err)
	}
	reg := RegisterProduct("Apples", "Farm A", "Produce")
	if _, err := parsed.Pack(reg.Method, reg.Args...); err != nil {
		t.Fatalf("pack register: %v", err)
	}
}

func TestWaitErrorKinds(t *testing.T) {
	pending := Pending{Op: RegisterProduct("a", "b", "c")}

	if got := apperr.KindOf(waitError(pending, context.DeadlineExceeded)); got != apperr.KindLedgerTimeout {
		t.Fatalf("deadline should map to timeout, got %s", got)
	}
	if got := apperr.KindOf(waitError(pending, fmt.Errorf("wrapped: %w", context.Canceled))); got != apperr.KindLedgerTimeout {
		t.Fatalf("cancel should map to timeout, got %s", got)
	}
	if got := apperr.KindOf(waitError(pending, errors.New("dial tcp: refused"))); got != apperr.KindLedgerUnreachable {
		t.Fatalf("transport error should map to unreachable, got %s", got)
	}
}

func TestIsRevert(t *testing.T) {
	if !isRevert(errors.New("failed to estimate gas needed: execution reverted: Product does not exist")) {
		t.Fatalf("expected revert")
	}
	if isRevert(errors.New("connection refused")) {
		t.Fatalf("unexpected revert")
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress(" 0x5FbDB2315678afecb367f032d93F642f64180aa3 "); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected error for empty address")
	}
	if _, err := ParseAddress("0x123"); err == nil {
		t.Fatalf("expected error for short address")
	}
}
