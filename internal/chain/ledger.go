package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/model"
)

// Operation is a state-changing contract call.
type Operation struct {
	Method string
	Args   []interface{}
}

// RegisterProduct builds the addProduct operation.
func RegisterProduct(name, origin, category string) Operation {
	return Operation{Method: methodAddProduct, Args: []interface{}{name, origin, category}}
}

// UpdateProductStatus builds the updateProduct operation.
func UpdateProductStatus(ledgerID uint64, status string) Operation {
	return Operation{Method: methodUpdateProduct, Args: []interface{}{new(big.Int).SetUint64(ledgerID), status}}
}

// Pending is a submitted, not yet finalized, operation.
type Pending struct {
	Op     Operation
	TxHash common.Hash
}

// LedgerConfig configures the contract binding and finalization policy.
type LedgerConfig struct {
	Contract            ContractInfo
	PrivateKey          string
	FinalizationTimeout time.Duration
	Confirmations       uint64
	PollInterval        time.Duration
}

// Ledger submits operations to the supply-chain contract and reads its state.
type Ledger struct {
	client   *Client
	contract *bind.BoundContract
	cfg      LedgerConfig
	logger   *zap.Logger

	signer *bind.TransactOpts
	from   common.Address

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

// NewLedger binds the contract. Without a private key the ledger is read-only.
func NewLedger(ctx context.Context, client *Client, cfg LedgerConfig, logger *zap.Logger) (*Ledger, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	eth := client.ethClient
	l := &Ledger{
		client:   client,
		contract: bind.NewBoundContract(cfg.Contract.Address, cfg.Contract.ABI, eth, eth, eth),
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.PrivateKey != "" {
		key, err := parsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		chainID, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("get chain id: %w", err)
		}
		signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
		if err != nil {
			return nil, fmt.Errorf("build transactor: %w", err)
		}
		l.signer = signer
		l.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	return l, nil
}

// Agent returns the address operations are submitted from.
func (l *Ledger) Agent() string {
	return l.from.Hex()
}

// Submit signs and sends op. It does not wait for the transaction to be mined.
func (l *Ledger) Submit(ctx context.Context, op Operation) (Pending, error) {
	if l.signer == nil {
		return Pending{}, apperr.New(apperr.KindInternal, "ledger client is read-only")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.nonceKnown {
		nonce, err := l.client.PendingNonceAt(ctx, l.from)
		if err != nil {
			return Pending{}, apperr.Wrap(apperr.KindLedgerUnreachable, "ledger unreachable", fmt.Errorf("pending nonce: %w", err))
		}
		l.nonce = nonce
		l.nonceKnown = true
	}

	opts := *l.signer
	opts.Context = ctx
	opts.Nonce = new(big.Int).SetUint64(l.nonce)

	tx, err := l.contract.Transact(&opts, op.Method, op.Args...)
	if err != nil {
		// The node's view of the nonce is refetched on the next submission.
		l.nonceKnown = false
		if isRevert(err) {
			return Pending{}, apperr.Wrap(apperr.KindLedgerRejected, "ledger rejected "+op.Method, err)
		}
		return Pending{}, apperr.Wrap(apperr.KindLedgerUnreachable, "ledger unreachable", fmt.Errorf("submit %s: %w", op.Method, err))
	}
	l.nonce++

	l.logger.Debug("ledger submit", zap.String("method", op.Method), zap.String("tx_hash", tx.Hash().Hex()), zap.Uint64("nonce", tx.Nonce()))
	return Pending{Op: op, TxHash: tx.Hash()}, nil
}

// AwaitFinalization blocks until the pending operation is mined and has the
// configured number of confirmations.
func (l *Ledger) AwaitFinalization(ctx context.Context, pending Pending) (*types.Receipt, error) {
	if l.cfg.FinalizationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.FinalizationTimeout)
		defer cancel()
	}

	receipt, err := l.waitMined(ctx, pending.TxHash)
	if err != nil {
		return nil, waitError(pending, err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, apperr.New(apperr.KindLedgerRejected, fmt.Sprintf("ledger rejected %s in tx %s", pending.Op.Method, pending.TxHash.Hex()))
	}

	if l.cfg.Confirmations > 0 && receipt.BlockNumber != nil {
		target := receipt.BlockNumber.Uint64() + l.cfg.Confirmations
		if err := l.waitBlock(ctx, target); err != nil {
			return nil, waitError(pending, err)
		}
	}

	return receipt, nil
}

// ReadCurrent reads a product from the contract. A missing product is
// reported as found=false, not as an error.
func (l *Ledger) ReadCurrent(ctx context.Context, ledgerID uint64) (model.LedgerRecord, bool, error) {
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, methodGetProduct, new(big.Int).SetUint64(ledgerID))
	if err != nil {
		if isRevert(err) {
			return model.LedgerRecord{}, false, nil
		}
		return model.LedgerRecord{}, false, apperr.Wrap(apperr.KindLedgerUnreachable, "ledger unreachable", fmt.Errorf("call getProduct: %w", err))
	}

	record, err := recordFromOutput(ledgerID, out)
	if err != nil {
		return model.LedgerRecord{}, false, apperr.Wrap(apperr.KindInternal, "unexpected ledger response", err)
	}
	if record.Name == "" {
		return model.LedgerRecord{}, false, nil
	}
	return record, true, nil
}

// ReceiptFacts exposes the receipt's logs in emission order.
func (l *Ledger) ReceiptFacts(receipt *types.Receipt) []*types.Log {
	if receipt == nil {
		return nil
	}
	return receipt.Logs
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, found, err := l.client.Receipt(ctx, hash)
		if found {
			return receipt, nil
		}
		if err != nil {
			l.logger.Debug("receipt fetch failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Ledger) waitBlock(ctx context.Context, target uint64) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		head, err := l.client.LatestBlockNumber(ctx)
		if err == nil && head >= target {
			return nil
		}
		if err != nil {
			l.logger.Debug("head fetch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func waitError(pending Pending, err error) error {
	msg := fmt.Sprintf("%s not finalized in time (tx %s)", pending.Op.Method, pending.TxHash.Hex())
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindLedgerTimeout, msg, err)
	}
	return apperr.Wrap(apperr.KindLedgerUnreachable, "ledger unreachable", err)
}

func recordFromOutput(ledgerID uint64, out []interface{}) (model.LedgerRecord, error) {
	if len(out) != 5 {
		return model.LedgerRecord{}, fmt.Errorf("getProduct returned %d values", len(out))
	}

	fields := make([]string, 4)
	for i := range fields {
		s, ok := out[i].(string)
		if !ok {
			return model.LedgerRecord{}, fmt.Errorf("getProduct value %d has type %T", i, out[i])
		}
		fields[i] = s
	}

	owner, ok := out[4].(common.Address)
	if !ok {
		return model.LedgerRecord{}, fmt.Errorf("getProduct owner has type %T", out[4])
	}

	return model.LedgerRecord{
		LedgerID: ledgerID,
		Name:     fields[0],
		Origin:   fields[1],
		Category: fields[2],
		Status:   fields[3],
		Owner:    owner.Hex(),
	}, nil
}

func parsePrivateKey(input string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(input), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
