package chaintest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/chain"
	"supplyTrace/internal/model"
)

// Ledger is an in-memory stand-in for chain.Ledger. Every submission is
// mined immediately into its own block.
type Ledger struct {
	Contract common.Address
	From     common.Address

	// Injected failures.
	SubmitErr error
	AwaitErr  error
	ReadErr   error
	// OmitEvents mines receipts without product events.
	OmitEvents bool
	// Noise is prepended to every receipt's logs.
	Noise int

	mu          sync.Mutex
	products    map[uint64]model.LedgerRecord
	receipts    map[common.Hash]*types.Receipt
	nextID      uint64
	block       uint64
	Submissions []chain.Operation
	Reads       int
}

// NewLedger returns an empty ledger bound to DefaultContract and DefaultAgent.
func NewLedger() *Ledger {
	return &Ledger{
		Contract: DefaultContract,
		From:     DefaultAgent,
		products: make(map[uint64]model.LedgerRecord),
		receipts: make(map[common.Hash]*types.Receipt),
		nextID:   1,
	}
}

func (l *Ledger) Agent() string {
	return l.From.Hex()
}

func (l *Ledger) Submit(_ context.Context, op chain.Operation) (chain.Pending, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Submissions = append(l.Submissions, op)
	if l.SubmitErr != nil {
		return chain.Pending{}, l.SubmitErr
	}

	l.block++
	txHash := hashFor(l.block)
	logs := make([]*types.Log, 0, l.Noise+1)
	for i := 0; i < l.Noise; i++ {
		logs = append(logs, NoiseLog(l.Contract, txHash, uint(len(logs))))
	}

	switch op.Method {
	case "addProduct":
		name, origin, category := op.Args[0].(string), op.Args[1].(string), op.Args[2].(string)
		id := l.nextID
		l.nextID++
		l.products[id] = model.LedgerRecord{
			LedgerID: id,
			Name:     name,
			Origin:   origin,
			Category: category,
			Status:   model.StatusCreated,
			Owner:    l.From.Hex(),
		}
		if !l.OmitEvents {
			logs = append(logs, ProductAddedLog(l.Contract, txHash, uint(len(logs)), id, name, origin, category, l.From))
		}
	case "updateProduct":
		id := op.Args[0].(*big.Int).Uint64()
		status := op.Args[1].(string)
		record, ok := l.products[id]
		if !ok {
			return chain.Pending{}, apperr.New(apperr.KindLedgerRejected, fmt.Sprintf("ledger rejected updateProduct: product %d does not exist", id))
		}
		record.Status = status
		l.products[id] = record
		if !l.OmitEvents {
			logs = append(logs, ProductUpdatedLog(l.Contract, txHash, uint(len(logs)), id, status, l.From))
		}
	default:
		return chain.Pending{}, apperr.New(apperr.KindLedgerRejected, "unknown method "+op.Method)
	}

	for _, log := range logs {
		log.BlockNumber = l.block
	}
	l.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: new(big.Int).SetUint64(l.block),
		Logs:        logs,
	}
	return chain.Pending{Op: op, TxHash: txHash}, nil
}

func (l *Ledger) AwaitFinalization(_ context.Context, pending chain.Pending) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.AwaitErr != nil {
		return nil, l.AwaitErr
	}
	receipt, ok := l.receipts[pending.TxHash]
	if !ok {
		return nil, apperr.New(apperr.KindLedgerTimeout, "unknown transaction")
	}
	return receipt, nil
}

func (l *Ledger) ReadCurrent(_ context.Context, ledgerID uint64) (model.LedgerRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Reads++
	if l.ReadErr != nil {
		return model.LedgerRecord{}, false, l.ReadErr
	}
	record, ok := l.products[ledgerID]
	return record, ok, nil
}

func (l *Ledger) ReceiptFacts(receipt *types.Receipt) []*types.Log {
	if receipt == nil {
		return nil
	}
	return receipt.Logs
}

// Receipts returns every mined receipt in block order.
func (l *Ledger) Receipts() []*types.Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*types.Receipt, 0, len(l.receipts))
	for block := uint64(1); block <= l.block; block++ {
		if receipt, ok := l.receipts[hashFor(block)]; ok {
			out = append(out, receipt)
		}
	}
	return out
}

func hashFor(block uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], block)
	return common.BytesToHash(buf[:])
}
