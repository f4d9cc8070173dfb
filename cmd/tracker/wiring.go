package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"supplyTrace/internal/chain"
	"supplyTrace/internal/config"
	"supplyTrace/internal/facts"
	"supplyTrace/internal/storage"
	"supplyTrace/internal/storage/postgres"
	"supplyTrace/internal/storage/sqlite"
)

// openMirror opens the configured backend and ensures its schema exists.
func openMirror(ctx context.Context, driver, dsn string) (storage.Mirror, error) {
	var (
		mirror storage.Mirror
		err    error
	)
	switch driver {
	case config.DriverPostgres:
		mirror, err = postgres.NewStore(ctx, dsn)
	case config.DriverSQLite:
		mirror, err = sqlite.NewStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported mirror driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s mirror: %w", driver, err)
	}
	if err := mirror.Migrate(ctx); err != nil {
		mirror.Close()
		return nil, fmt.Errorf("migrate %s mirror: %w", driver, err)
	}
	return mirror, nil
}

// loadContract prefers the deployment file and falls back to the built-in ABI.
func loadContract(cfg config.Config) (chain.ContractInfo, error) {
	if cfg.ContractInfo != "" {
		return chain.LoadContractInfo(cfg.ContractInfo)
	}
	address, err := chain.ParseAddress(cfg.Contract)
	if err != nil {
		return chain.ContractInfo{}, fmt.Errorf("contract: %w", err)
	}
	parsed, err := chain.SupplyChainABI()
	if err != nil {
		return chain.ContractInfo{}, err
	}
	return chain.ContractInfo{Address: address, ABI: parsed}, nil
}

type ledgerStack struct {
	client   *chain.Client
	contract chain.ContractInfo
	decoder  *facts.Decoder
}

func (s *ledgerStack) Close() {
	s.client.Close()
}

func connectLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*ledgerStack, error) {
	contract, err := loadContract(cfg)
	if err != nil {
		return nil, err
	}
	decoder, err := facts.NewDecoder(facts.Config{ABI: contract.ABI, Contract: contract.Address})
	if err != nil {
		return nil, err
	}
	client, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	logger.Info("ledger connected",
		zap.String("rpc", cfg.RPCURL),
		zap.String("contract", contract.Address.Hex()),
	)
	return &ledgerStack{client: client, contract: contract, decoder: decoder}, nil
}
