package facts

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"supplyTrace/internal/chain"
	"supplyTrace/internal/chain/chaintest"
	"supplyTrace/internal/model"
)

var (
	contract = chaintest.DefaultContract
	owner    = chaintest.DefaultAgent
	txHash   = common.HexToHash("0xabc")
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	parsed, err := chain.SupplyChainABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(Config{ABI: parsed, Contract: contract})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func TestDecodeProductAdded(t *testing.T) {
	decoder := newDecoder(t)

	log := chaintest.ProductAddedLog(contract, txHash, 3, 12, "Apples", "Farm A", "Produce", owner)
	log.BlockNumber = 99

	fact := decoder.DecodeLog(log)
	registered, ok := fact.(model.ProductRegistered)
	if !ok {
		t.Fatalf("expected ProductRegistered, got %T (%+v)", fact, fact)
	}
	if registered.LedgerID != 12 || registered.Name != "Apples" || registered.Origin != "Farm A" || registered.Category != "Produce" {
		t.Fatalf("fields mismatch: %+v", registered)
	}
	if registered.Owner != owner.Hex() {
		t.Fatalf("owner mismatch: %s", registered.Owner)
	}
	if registered.Source() != (model.FactSource{TxHash: txHash.Hex(), LogIndex: 3, BlockNumber: 99}) {
		t.Fatalf("source mismatch: %+v", registered.Source())
	}
}

func TestDecodeProductUpdated(t *testing.T) {
	decoder := newDecoder(t)

	fact := decoder.DecodeLog(chaintest.ProductUpdatedLog(contract, txHash, 0, 5, "In Transit", owner))
	changed, ok := fact.(model.ProductStatusChanged)
	if !ok {
		t.Fatalf("expected ProductStatusChanged, got %T", fact)
	}
	if changed.LedgerID != 5 || changed.Status != "In Transit" {
		t.Fatalf("fields mismatch: %+v", changed)
	}
}

func TestDecodeOneRegisteredAmongMalformed(t *testing.T) {
	decoder := newDecoder(t)
	parsed, _ := chain.SupplyChainABI()
	addedID := parsed.Events[chain.EventProductAdded].ID

	logs := []*types.Log{
		chaintest.NoiseLog(contract, txHash, 0),
		{Address: contract, TxHash: txHash, Index: 1},
		{Address: contract, Topics: []common.Hash{addedID}, Data: []byte{0xde, 0xad}, TxHash: txHash, Index: 2},
		chaintest.ProductAddedLog(contract, txHash, 3, 1, "Apples", "Farm A", "Produce", owner),
		{Address: contract, Topics: []common.Hash{addedID, addedID}, TxHash: txHash, Index: 4},
		nil,
	}

	facts := decoder.Decode(logs)
	if len(facts) != len(logs) {
		t.Fatalf("expected %d facts, got %d", len(logs), len(facts))
	}

	var registered, unknown int
	for _, fact := range facts {
		switch fact.(type) {
		case model.ProductRegistered:
			registered++
		case model.Unknown:
			unknown++
		}
	}
	if registered != 1 || unknown != len(logs)-1 {
		t.Fatalf("expected 1 registered and %d unknown, got %d and %d", len(logs)-1, registered, unknown)
	}

	first, ok := FirstRegistered(facts)
	if !ok || first.LedgerID != 1 || first.Source().LogIndex != 3 {
		t.Fatalf("first registered mismatch: %+v", first)
	}
	if _, ok := FirstStatusChanged(facts); ok {
		t.Fatalf("unexpected status change")
	}
}

func TestDecodeForeignEmitter(t *testing.T) {
	decoder := newDecoder(t)
	foreign := common.HexToAddress("0x1111111111111111111111111111111111111111")

	fact := decoder.DecodeLog(chaintest.ProductAddedLog(foreign, txHash, 0, 1, "Apples", "Farm A", "Produce", owner))
	unknown, ok := fact.(model.Unknown)
	if !ok {
		t.Fatalf("expected Unknown, got %T", fact)
	}
	if !strings.Contains(unknown.Reason, "foreign") {
		t.Fatalf("reason mismatch: %s", unknown.Reason)
	}
}

func TestDecodeAnyEmitterWhenUnbound(t *testing.T) {
	parsed, _ := chain.SupplyChainABI()
	decoder, err := NewDecoder(Config{ABI: parsed})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	foreign := common.HexToAddress("0x1111111111111111111111111111111111111111")

	if _, ok := decoder.DecodeLog(chaintest.ProductAddedLog(foreign, txHash, 0, 1, "a", "b", "c", owner)).(model.ProductRegistered); !ok {
		t.Fatalf("expected ProductRegistered without contract binding")
	}
}

const indexedABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "_productId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "_name", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "_origin", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "_category", "type": "string"},
      {"indexed": true, "internalType": "address", "name": "_owner", "type": "address"}
    ],
    "name": "ProductAdded",
    "type": "event"
  }
]`

func TestDecodeIndexedVariant(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(indexedABIJSON))
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDecoder(Config{ABI: parsed, Contract: contract})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	event := parsed.Events[chain.EventProductAdded]
	data, err := event.Inputs.NonIndexed().Pack("Pears", "Orchard B", "Produce")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := &types.Log{
		Address: contract,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(77)),
			common.BytesToHash(owner.Bytes()),
		},
		Data:   data,
		TxHash: txHash,
	}

	registered, ok := decoder.DecodeLog(log).(model.ProductRegistered)
	if !ok {
		t.Fatalf("expected ProductRegistered")
	}
	if registered.LedgerID != 77 || registered.Name != "Pears" || registered.Owner != owner.Hex() {
		t.Fatalf("fields mismatch: %+v", registered)
	}
}

func TestDecodeIDOverflow(t *testing.T) {
	decoder := newDecoder(t)
	parsed, _ := chain.SupplyChainABI()
	event := parsed.Events[chain.EventProductAdded]

	for _, id := range []*big.Int{
		new(big.Int).Lsh(big.NewInt(1), 70),
		new(big.Int).Lsh(big.NewInt(1), 63),
	} {
		data, err := event.Inputs.NonIndexed().Pack(id, "a", "b", "c", owner)
		if err != nil {
			t.Fatalf("pack: %v", err)
		}
		log := &types.Log{Address: contract, Topics: []common.Hash{event.ID}, Data: data}
		if _, ok := decoder.DecodeLog(log).(model.Unknown); !ok {
			t.Fatalf("expected Unknown for id %s", id)
		}
	}

	maxID := new(big.Int).SetUint64(1<<63 - 1)
	data, err := event.Inputs.NonIndexed().Pack(maxID, "a", "b", "c", owner)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := &types.Log{Address: contract, Topics: []common.Hash{event.ID}, Data: data}
	registered, ok := decoder.DecodeLog(log).(model.ProductRegistered)
	if !ok || registered.LedgerID != 1<<63-1 {
		t.Fatalf("largest storable id should decode, got %+v", decoder.DecodeLog(log))
	}
}

func TestNewDecoderRequiresEvents(t *testing.T) {
	if _, err := NewDecoder(Config{}); err == nil {
		t.Fatalf("expected error for empty abi")
	}
}
