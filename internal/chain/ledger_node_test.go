package chain_test

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"supplyTrace/internal/apperr"
	"supplyTrace/internal/chain"
	"supplyTrace/internal/chain/chaintest"
	"supplyTrace/internal/model"
)

// First default hardhat account, the owner of chaintest.DefaultAgent.
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testChainID = big.NewInt(1337)

// fakeNode serves the eth_ methods the ledger and go-ethereum's bind package
// use, executing the supply-chain contract in memory.
type fakeNode struct {
	abi      abi.ABI
	contract common.Address

	mu           sync.Mutex
	head         uint64
	nonce        uint64
	nonceQueries int
	sentNonces   []uint64
	receipts     map[common.Hash]*types.Receipt
	products     map[uint64]model.LedgerRecord
	nextID       uint64

	// sendErr fails the next eth_sendRawTransaction.
	sendErr error
	// failStatus mines receipts with a failed status.
	failStatus bool
	// holdReceipts keeps every transaction pending.
	holdReceipts bool
	// advanceHead mines an empty block on every eth_blockNumber.
	advanceHead bool
}

type callArgs struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

type ethAPI struct {
	node *fakeNode
}

func (api *ethAPI) ChainId() *hexutil.Big {
	return (*hexutil.Big)(testChainID)
}

func (api *ethAPI) GetTransactionCount(_ common.Address, _ string) hexutil.Uint64 {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nonceQueries++
	return hexutil.Uint64(n.nonce)
}

func (api *ethAPI) GetBlockByNumber(_ string, _ bool) (*types.Header, error) {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()
	return &types.Header{
		Number:     new(big.Int).SetUint64(n.head),
		Difficulty: new(big.Int),
		GasLimit:   30_000_000,
	}, nil
}

func (api *ethAPI) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(1_000_000_000))
}

func (api *ethAPI) GetCode(_ common.Address, _ string) hexutil.Bytes {
	return hexutil.Bytes{0x60, 0x80}
}

func (api *ethAPI) EstimateGas(args callArgs) (hexutil.Uint64, error) {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.check(args.Input); err != nil {
		return 0, err
	}
	return 100_000, nil
}

func (api *ethAPI) SendRawTransaction(data hexutil.Bytes) (common.Hash, error) {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.sendErr; err != nil {
		n.sendErr = nil
		return common.Hash{}, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return common.Hash{}, err
	}
	if tx.Nonce() != n.nonce {
		return common.Hash{}, errors.New("invalid nonce")
	}
	from, err := types.Sender(types.LatestSignerForChainID(testChainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	n.nonce++
	n.sentNonces = append(n.sentNonces, tx.Nonce())

	n.head++
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     21_000,
		BlockNumber: new(big.Int).SetUint64(n.head),
		Logs:        []*types.Log{},
	}
	if n.failStatus {
		receipt.Status = types.ReceiptStatusFailed
	} else if log := n.apply(tx, from); log != nil {
		log.BlockNumber = n.head
		receipt.Logs = append(receipt.Logs, log)
	}
	if !n.holdReceipts {
		n.receipts[tx.Hash()] = receipt
	}
	return tx.Hash(), nil
}

func (api *ethAPI) GetTransactionReceipt(hash common.Hash) (*types.Receipt, error) {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.receipts[hash], nil
}

func (api *ethAPI) BlockNumber() hexutil.Uint64 {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.advanceHead {
		n.head++
	}
	return hexutil.Uint64(n.head)
}

func (api *ethAPI) Call(args callArgs, _ string) (hexutil.Bytes, error) {
	n := api.node
	n.mu.Lock()
	defer n.mu.Unlock()

	method, values, err := n.unpack(args.Input)
	if err != nil {
		return nil, err
	}
	if method.Name != "getProduct" {
		return nil, errors.New("unexpected call " + method.Name)
	}
	record := n.products[values[0].(*big.Int).Uint64()]
	owner := common.Address{}
	if record.Owner != "" {
		owner = common.HexToAddress(record.Owner)
	}
	return method.Outputs.Pack(record.Name, record.Origin, record.Category, record.Status, owner)
}

// update runs fn under the node lock.
func (n *fakeNode) update(fn func(*fakeNode)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n)
}

func (n *fakeNode) counters() (nonceQueries int, sentNonces []uint64, head uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonceQueries, append([]uint64(nil), n.sentNonces...), n.head
}

func (n *fakeNode) unpack(input []byte) (*abi.Method, []interface{}, error) {
	if len(input) < 4 {
		return nil, nil, errors.New("short input")
	}
	method, err := n.abi.MethodById(input[:4])
	if err != nil {
		return nil, nil, err
	}
	values, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, values, nil
}

// check mirrors the contract's require on updateProduct.
func (n *fakeNode) check(input []byte) error {
	method, values, err := n.unpack(input)
	if err != nil {
		return err
	}
	if method.Name == "updateProduct" {
		if _, ok := n.products[values[0].(*big.Int).Uint64()]; !ok {
			return errors.New("execution reverted: Product does not exist")
		}
	}
	return nil
}

func (n *fakeNode) apply(tx *types.Transaction, from common.Address) *types.Log {
	method, values, err := n.unpack(tx.Data())
	if err != nil {
		return nil
	}
	switch method.Name {
	case "addProduct":
		id := n.nextID
		n.nextID++
		name, origin, category := values[0].(string), values[1].(string), values[2].(string)
		n.products[id] = model.LedgerRecord{
			LedgerID: id,
			Name:     name,
			Origin:   origin,
			Category: category,
			Status:   model.StatusCreated,
			Owner:    from.Hex(),
		}
		return chaintest.ProductAddedLog(n.contract, tx.Hash(), 0, id, name, origin, category, from)
	case "updateProduct":
		id := values[0].(*big.Int).Uint64()
		record := n.products[id]
		record.Status = values[1].(string)
		n.products[id] = record
		return chaintest.ProductUpdatedLog(n.contract, tx.Hash(), 0, id, record.Status, from)
	}
	return nil
}

func startNode(t *testing.T) (*fakeNode, *chain.Client) {
	t.Helper()
	parsed, err := chain.SupplyChainABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	node := &fakeNode{
		abi:      parsed,
		contract: chaintest.DefaultContract,
		receipts: make(map[common.Hash]*types.Receipt),
		products: make(map[uint64]model.LedgerRecord),
		nextID:   1,
	}

	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethAPI{node: node}); err != nil {
		t.Fatalf("register api: %v", err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})

	client, err := chain.Dial(context.Background(), httpServer.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return node, client
}

func newTestLedger(t *testing.T, client *chain.Client, mutate func(*chain.LedgerConfig)) *chain.Ledger {
	t.Helper()
	parsed, err := chain.SupplyChainABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	cfg := chain.LedgerConfig{
		Contract:            chain.ContractInfo{Address: chaintest.DefaultContract, ABI: parsed},
		PrivateKey:          testKey,
		FinalizationTimeout: 2 * time.Second,
		PollInterval:        5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ledger, err := chain.NewLedger(context.Background(), client, cfg, nil)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return ledger
}

func finalize(t *testing.T, ledger *chain.Ledger, op chain.Operation) (*types.Receipt, error) {
	t.Helper()
	ctx := context.Background()
	pending, err := ledger.Submit(ctx, op)
	if err != nil {
		return nil, err
	}
	return ledger.AwaitFinalization(ctx, pending)
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, got, err)
	}
}

func TestLedgerRegisterAndRead(t *testing.T) {
	_, client := startNode(t)
	ledger := newTestLedger(t, client, nil)
	ctx := context.Background()

	if ledger.Agent() != chaintest.DefaultAgent.Hex() {
		t.Fatalf("agent mismatch: %s", ledger.Agent())
	}

	receipt, err := finalize(t, ledger, chain.RegisterProduct("Apples", "Farm A", "Produce"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	logs := ledger.ReceiptFacts(receipt)
	if len(logs) != 1 || logs[0].TxHash != receipt.TxHash || logs[0].Address != chaintest.DefaultContract {
		t.Fatalf("receipt logs mismatch: %+v", logs)
	}

	record, found, err := ledger.ReadCurrent(ctx, 1)
	if err != nil || !found {
		t.Fatalf("read: found=%v err=%v", found, err)
	}
	want := model.LedgerRecord{
		LedgerID: 1,
		Name:     "Apples",
		Origin:   "Farm A",
		Category: "Produce",
		Status:   model.StatusCreated,
		Owner:    chaintest.DefaultAgent.Hex(),
	}
	if record != want {
		t.Fatalf("record mismatch: %+v != %+v", record, want)
	}

	if _, err := finalize(t, ledger, chain.UpdateProductStatus(1, "Shipped")); err != nil {
		t.Fatalf("update: %v", err)
	}
	record, _, _ = ledger.ReadCurrent(ctx, 1)
	if record.Status != "Shipped" {
		t.Fatalf("status mismatch: %+v", record)
	}
}

func TestLedgerReadMissingProduct(t *testing.T) {
	_, client := startNode(t)
	ledger := newTestLedger(t, client, nil)

	record, found, err := ledger.ReadCurrent(context.Background(), 99)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if found || record != (model.LedgerRecord{}) {
		t.Fatalf("empty name should read as missing: %+v", record)
	}
}

func TestLedgerSubmitTracksNonce(t *testing.T) {
	node, client := startNode(t)
	ledger := newTestLedger(t, client, nil)

	for _, name := range []string{"Apples", "Pears"} {
		if _, err := finalize(t, ledger, chain.RegisterProduct(name, "Farm A", "Produce")); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if queries, _, _ := node.counters(); queries != 1 {
		t.Fatalf("nonce should be fetched once, got %d queries", queries)
	}

	node.update(func(n *fakeNode) { n.sendErr = errors.New("replacement transaction underpriced") })
	_, err := finalize(t, ledger, chain.RegisterProduct("Plums", "Farm A", "Produce"))
	assertKind(t, err, apperr.KindLedgerUnreachable)

	// another sender used the account meanwhile
	node.update(func(n *fakeNode) { n.nonce = 7 })

	if _, err := finalize(t, ledger, chain.RegisterProduct("Plums", "Farm A", "Produce")); err != nil {
		t.Fatalf("register after failed send: %v", err)
	}
	queries, sent, _ := node.counters()
	if queries != 2 {
		t.Fatalf("failed send should refetch the nonce, got %d queries", queries)
	}
	if !reflect.DeepEqual(sent, []uint64{0, 1, 7}) {
		t.Fatalf("sent nonces mismatch: %v", sent)
	}
}

func TestLedgerRevertIsRejected(t *testing.T) {
	_, client := startNode(t)
	ledger := newTestLedger(t, client, nil)

	_, err := finalize(t, ledger, chain.UpdateProductStatus(42, "Shipped"))
	assertKind(t, err, apperr.KindLedgerRejected)
}

func TestLedgerFailedReceiptIsRejected(t *testing.T) {
	node, client := startNode(t)
	ledger := newTestLedger(t, client, nil)
	node.update(func(n *fakeNode) { n.failStatus = true })

	_, err := finalize(t, ledger, chain.RegisterProduct("Apples", "Farm A", "Produce"))
	assertKind(t, err, apperr.KindLedgerRejected)
}

func TestLedgerWaitsForConfirmations(t *testing.T) {
	node, client := startNode(t)
	ledger := newTestLedger(t, client, func(cfg *chain.LedgerConfig) {
		cfg.Confirmations = 3
	})
	node.update(func(n *fakeNode) { n.advanceHead = true })

	receipt, err := finalize(t, ledger, chain.RegisterProduct("Apples", "Farm A", "Produce"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	_, _, head := node.counters()
	if head < receipt.BlockNumber.Uint64()+3 {
		t.Fatalf("returned at head %d before block %d had 3 confirmations", head, receipt.BlockNumber.Uint64())
	}
}

func TestLedgerFinalizationTimeout(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeNode)
	}{
		{"never mined", func(n *fakeNode) { n.holdReceipts = true }},
		{"never confirmed", func(n *fakeNode) {}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			node, client := startNode(t)
			ledger := newTestLedger(t, client, func(cfg *chain.LedgerConfig) {
				cfg.Confirmations = 3
				cfg.FinalizationTimeout = 50 * time.Millisecond
			})
			node.update(tc.setup)

			_, err := finalize(t, ledger, chain.RegisterProduct("Apples", "Farm A", "Produce"))
			assertKind(t, err, apperr.KindLedgerTimeout)
		})
	}
}

func TestLedgerReadOnlyWithoutKey(t *testing.T) {
	_, client := startNode(t)
	ledger := newTestLedger(t, client, func(cfg *chain.LedgerConfig) {
		cfg.PrivateKey = ""
	})

	_, err := ledger.Submit(context.Background(), chain.RegisterProduct("Apples", "Farm A", "Produce"))
	assertKind(t, err, apperr.KindInternal)
	if _, _, err := ledger.ReadCurrent(context.Background(), 1); err != nil {
		t.Fatalf("reads should work without a key: %v", err)
	}
}
