package facts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"supplyTrace/internal/chain"
	"supplyTrace/internal/model"
)

// Config configures decoder behavior.
type Config struct {
	ABI abi.ABI
	// Contract restricts decoding to logs emitted by this address. The zero
	// address accepts any emitter.
	Contract common.Address
}

// Decoder maps receipt logs to product facts.
type Decoder struct {
	contract common.Address
	byTopic  map[common.Hash]abi.Event
}

// NewDecoder builds a Decoder from the contract ABI.
func NewDecoder(cfg Config) (*Decoder, error) {
	byTopic := make(map[common.Hash]abi.Event, 2)
	for _, name := range []string{chain.EventProductAdded, chain.EventProductUpdated} {
		event, ok := cfg.ABI.Events[name]
		if !ok {
			continue
		}
		byTopic[event.ID] = event
	}
	if len(byTopic) == 0 {
		return nil, fmt.Errorf("abi has no product events")
	}

	return &Decoder{contract: cfg.Contract, byTopic: byTopic}, nil
}

// Decode converts logs into facts, preserving order. A log that cannot be
// decoded becomes model.Unknown; Decode itself never fails.
func (d *Decoder) Decode(logs []*types.Log) []model.Fact {
	out := make([]model.Fact, 0, len(logs))
	for _, log := range logs {
		out = append(out, d.DecodeLog(log))
	}
	return out
}

// DecodeLog converts a single log into a fact.
func (d *Decoder) DecodeLog(log *types.Log) model.Fact {
	if log == nil {
		return model.Unknown{Reason: "nil log"}
	}
	src := model.FactSource{
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
		BlockNumber: log.BlockNumber,
	}

	if d.contract != (common.Address{}) && log.Address != d.contract {
		return model.Unknown{Log: src, Reason: fmt.Sprintf("foreign emitter %s", log.Address.Hex())}
	}
	if len(log.Topics) == 0 {
		return model.Unknown{Log: src, Reason: "missing topics"}
	}
	event, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return model.Unknown{Log: src, Reason: fmt.Sprintf("unsupported topic0: %s", log.Topics[0].Hex())}
	}

	values, err := unpackEvent(event, log)
	if err != nil {
		return model.Unknown{Log: src, Reason: err.Error()}
	}

	var fact model.Fact
	switch event.Name {
	case chain.EventProductAdded:
		fact, err = registeredFromValues(src, values)
	case chain.EventProductUpdated:
		fact, err = statusChangedFromValues(src, values)
	default:
		err = fmt.Errorf("unsupported event name: %s", event.Name)
	}
	if err != nil {
		return model.Unknown{Log: src, Reason: fmt.Sprintf("%s: %v", event.Name, err)}
	}
	return fact
}

// FirstRegistered returns the first ProductRegistered fact.
func FirstRegistered(facts []model.Fact) (model.ProductRegistered, bool) {
	for _, fact := range facts {
		if registered, ok := fact.(model.ProductRegistered); ok {
			return registered, true
		}
	}
	return model.ProductRegistered{}, false
}

// FirstStatusChanged returns the first ProductStatusChanged fact.
func FirstStatusChanged(facts []model.Fact) (model.ProductStatusChanged, bool) {
	for _, fact := range facts {
		if changed, ok := fact.(model.ProductStatusChanged); ok {
			return changed, true
		}
	}
	return model.ProductStatusChanged{}, false
}

func registeredFromValues(src model.FactSource, values eventValues) (model.ProductRegistered, error) {
	id, err := values.ledgerID()
	if err != nil {
		return model.ProductRegistered{}, err
	}
	name, err := values.str("name")
	if err != nil {
		return model.ProductRegistered{}, err
	}
	origin, err := values.str("origin")
	if err != nil {
		return model.ProductRegistered{}, err
	}
	category, err := values.str("category")
	if err != nil {
		return model.ProductRegistered{}, err
	}
	owner, err := values.address("owner")
	if err != nil {
		return model.ProductRegistered{}, err
	}

	return model.ProductRegistered{
		Log:      src,
		LedgerID: id,
		Name:     name,
		Origin:   origin,
		Category: category,
		Owner:    owner.Hex(),
	}, nil
}

func statusChangedFromValues(src model.FactSource, values eventValues) (model.ProductStatusChanged, error) {
	id, err := values.ledgerID()
	if err != nil {
		return model.ProductStatusChanged{}, err
	}
	status, err := values.str("status")
	if err != nil {
		return model.ProductStatusChanged{}, err
	}
	owner, err := values.address("owner")
	if err != nil {
		return model.ProductStatusChanged{}, err
	}

	return model.ProductStatusChanged{
		Log:      src,
		LedgerID: id,
		Status:   status,
		Owner:    owner.Hex(),
	}, nil
}

// eventValues holds decoded arguments keyed by normalized name, so that
// "productId" and "_productId" resolve the same way.
type eventValues map[string]interface{}

func unpackEvent(event abi.Event, log *types.Log) (eventValues, error) {
	raw := make(map[string]interface{})

	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(raw, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(raw, log.Data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	values := make(eventValues, len(raw))
	for name, value := range raw {
		values[normalizeArgName(name)] = value
	}
	return values, nil
}

func (v eventValues) ledgerID() (uint64, error) {
	raw, ok := v["productid"]
	if !ok {
		return 0, fmt.Errorf("missing productId")
	}
	id, err := asBigInt(raw)
	if err != nil {
		return 0, fmt.Errorf("productId: %w", err)
	}
	// Mirrors store ids as signed 64-bit integers.
	if id.Sign() < 0 || !id.IsInt64() {
		return 0, fmt.Errorf("productId out of range: %s", id.String())
	}
	return id.Uint64(), nil
}

func (v eventValues) str(name string) (string, error) {
	raw, ok := v[name]
	if !ok {
		return "", fmt.Errorf("missing %s", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s has type %T", name, raw)
	}
	return s, nil
}

func (v eventValues) address(name string) (common.Address, error) {
	raw, ok := v[name]
	if !ok {
		return common.Address{}, fmt.Errorf("missing %s", name)
	}
	return asAddress(raw)
}

func normalizeArgName(name string) string {
	return strings.ToLower(strings.TrimLeft(name, "_"))
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
