package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	EventProductAdded   = "ProductAdded"
	EventProductUpdated = "ProductUpdated"

	methodAddProduct    = "addProduct"
	methodUpdateProduct = "updateProduct"
	methodGetProduct    = "getProduct"
)

const supplyChainABIJSON = `[
  {
    "inputs": [
      {"internalType": "string", "name": "_name", "type": "string"},
      {"internalType": "string", "name": "_origin", "type": "string"},
      {"internalType": "string", "name": "_category", "type": "string"}
    ],
    "name": "addProduct",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_productId", "type": "uint256"},
      {"internalType": "string", "name": "_status", "type": "string"}
    ],
    "name": "updateProduct",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_productId", "type": "uint256"}
    ],
    "name": "getProduct",
    "outputs": [
      {"internalType": "string", "name": "", "type": "string"},
      {"internalType": "string", "name": "", "type": "string"},
      {"internalType": "string", "name": "", "type": "string"},
      {"internalType": "string", "name": "", "type": "string"},
      {"internalType": "address", "name": "", "type": "address"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "productId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "origin", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "category", "type": "string"},
      {"indexed": false, "internalType": "address", "name": "owner", "type": "address"}
    ],
    "name": "ProductAdded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "productId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "status", "type": "string"},
      {"indexed": false, "internalType": "address", "name": "owner", "type": "address"}
    ],
    "name": "ProductUpdated",
    "type": "event"
  }
]`

var (
	supplyChainABI     abi.ABI
	supplyChainABIOnce sync.Once
	supplyChainABIErr  error
)

// SupplyChainABI returns the parsed default contract ABI.
func SupplyChainABI() (abi.ABI, error) {
	supplyChainABIOnce.Do(func() {
		supplyChainABI, supplyChainABIErr = abi.JSON(strings.NewReader(supplyChainABIJSON))
	})
	return supplyChainABI, supplyChainABIErr
}

// ContractInfo binds a contract address to its ABI.
type ContractInfo struct {
	Address common.Address
	ABI     abi.ABI
}

// contractInfoFile matches the deploy script output. abi is either a JSON
// array or a string holding one.
type contractInfoFile struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// LoadContractInfo reads a deployment file of the form {"address": ..., "abi": ...}.
func LoadContractInfo(path string) (ContractInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ContractInfo{}, fmt.Errorf("read contract info: %w", err)
	}

	var file contractInfoFile
	if err := json.Unmarshal(data, &file); err != nil {
		return ContractInfo{}, fmt.Errorf("parse contract info: %w", err)
	}

	address, err := ParseAddress(file.Address)
	if err != nil {
		return ContractInfo{}, err
	}

	rawABI := []byte(file.ABI)
	if len(rawABI) > 0 && rawABI[0] == '"' {
		var encoded string
		if err := json.Unmarshal(rawABI, &encoded); err != nil {
			return ContractInfo{}, fmt.Errorf("parse contract abi string: %w", err)
		}
		rawABI = []byte(encoded)
	}
	if len(rawABI) == 0 {
		return ContractInfo{}, fmt.Errorf("contract info has no abi")
	}

	parsed, err := abi.JSON(strings.NewReader(string(rawABI)))
	if err != nil {
		return ContractInfo{}, fmt.Errorf("parse contract abi: %w", err)
	}
	if err := requireContractShape(parsed); err != nil {
		return ContractInfo{}, err
	}

	return ContractInfo{Address: address, ABI: parsed}, nil
}

// EventTopics returns the topic0 hashes of the product events.
func EventTopics(contractABI abi.ABI) []common.Hash {
	topics := make([]common.Hash, 0, 2)
	for _, name := range []string{EventProductAdded, EventProductUpdated} {
		if event, ok := contractABI.Events[name]; ok {
			topics = append(topics, event.ID)
		}
	}
	return topics
}

func requireContractShape(parsed abi.ABI) error {
	for _, method := range []string{methodAddProduct, methodUpdateProduct, methodGetProduct} {
		if _, ok := parsed.Methods[method]; !ok {
			return fmt.Errorf("contract abi missing method %s", method)
		}
	}
	if _, ok := parsed.Events[EventProductAdded]; !ok {
		return fmt.Errorf("contract abi missing event %s", EventProductAdded)
	}
	return nil
}
