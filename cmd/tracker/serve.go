package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"supplyTrace/internal/chain"
	"supplyTrace/internal/config"
	"supplyTrace/internal/httpapi"
	"supplyTrace/internal/ledgersync"
	"supplyTrace/internal/metrics"
	"supplyTrace/internal/qr"
	"supplyTrace/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := connectLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	ledger, err := chain.NewLedger(ctx, stack.client, chain.LedgerConfig{
		Contract:            stack.contract,
		PrivateKey:          cfg.PrivateKey,
		FinalizationTimeout: cfg.FinalizationTimeout,
		Confirmations:       cfg.Confirmations,
		PollInterval:        cfg.PollInterval,
	}, logger.Named("ledger"))
	if err != nil {
		return fmt.Errorf("bind ledger: %w", err)
	}
	if cfg.PrivateKey == "" {
		logger.Warn("no private key configured, write operations will fail")
	}

	mirror, err := openMirror(ctx, cfg.MirrorDriver, cfg.MirrorDSN)
	if err != nil {
		return err
	}
	defer mirror.Close()

	collector := metrics.NewCollector()
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		return err
	}

	deps := ledgersync.Deps{
		Ledger:  ledger,
		Decoder: stack.decoder,
		Mirror:  mirror,
		QR:      qr.Encoder{BaseURL: cfg.QRBaseURL, Size: cfg.QRSize},
		Metrics: collector,
		Logger:  logger.Named("sync"),
	}
	journalPath := "disabled"
	if cfg.FailureJournal != "" {
		journal := storage.NewJsonlJournal(cfg.FailureJournal)
		journalPath = journal.Path()
		deps.Journal = journal
	}
	svc, err := ledgersync.NewService(deps, ledgersync.Config{
		ReadRetries:  cfg.ReadRetries,
		RetryBackoff: cfg.RetryBackoff,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.Listen,
		Handler: httpapi.NewRouter(httpapi.Options{
			Service:        svc,
			Logger:         logger.Named("http"),
			Metrics:        collector,
			MetricsHandler: metrics.Handler(registry),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// writes wait on ledger finalization
		WriteTimeout: cfg.FinalizationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("tracker start",
		zap.String("agent", ledger.Agent()),
		zap.String("failure_journal", journalPath),
		zap.Any("config", cfg.Redacted()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
