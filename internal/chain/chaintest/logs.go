// Package chaintest builds synthetic contract logs and an in-memory ledger for
// tests of packages that sit on top of the chain client.
package chaintest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"supplyTrace/internal/chain"
)

var (
	DefaultContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	DefaultAgent    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// ProductAddedLog packs a ProductAdded log with the default ABI.
func ProductAddedLog(contract common.Address, txHash common.Hash, index uint, id uint64, name, origin, category string, owner common.Address) *types.Log {
	parsed := mustABI()
	event := parsed.Events[chain.EventProductAdded]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(id), name, origin, category, owner)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID},
		Data:    data,
		TxHash:  txHash,
		Index:   index,
	}
}

// ProductUpdatedLog packs a ProductUpdated log with the default ABI.
func ProductUpdatedLog(contract common.Address, txHash common.Hash, index uint, id uint64, status string, owner common.Address) *types.Log {
	parsed := mustABI()
	event := parsed.Events[chain.EventProductUpdated]
	data, err := event.Inputs.NonIndexed().Pack(new(big.Int).SetUint64(id), status, owner)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{event.ID},
		Data:    data,
		TxHash:  txHash,
		Index:   index,
	}
}

// NoiseLog is a log no product decoder recognises.
func NoiseLog(contract common.Address, txHash common.Hash, index uint) *types.Log {
	return &types.Log{
		Address: contract,
		Topics:  []common.Hash{common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")},
		Data:    []byte{0x01, 0x02},
		TxHash:  txHash,
		Index:   index,
	}
}

func mustABI() abi.ABI {
	parsed, err := chain.SupplyChainABI()
	if err != nil {
		panic(err)
	}
	return parsed
}
