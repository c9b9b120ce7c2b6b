package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pawnpool/config"
	"pawnpool/core/events"
	"pawnpool/custody"
	nativecommon "pawnpool/native/common"
	"pawnpool/native/loan"
	"pawnpool/observability"
	"pawnpool/observability/logging"
	"pawnpool/rpc"
	"pawnpool/storage"
)

const shutdownGrace = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAWND_ENV"))
	logger := logging.Setup("pawnd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	owner, err := cfg.Owner()
	if err != nil {
		logger.Error("Invalid owner address", slog.Any("error", err))
		os.Exit(1)
	}
	vault, err := cfg.Vault()
	if err != nil {
		logger.Error("Invalid vault address", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", slog.String("dir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	store, err := storage.NewStore(cfg.DatabasePath(), nil)
	if err != nil {
		logger.Error("Failed to open database", slog.String("path", cfg.DatabasePath()), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	bridge, err := custody.NewBridge(custody.Config{
		BaseURL:            cfg.Custody.BaseURL,
		BearerToken:        cfg.Custody.BearerToken,
		SharedSecretHeader: cfg.Custody.SharedSecretHeader,
		SharedSecretValue:  cfg.Custody.SharedSecretValue,
		TLSClientCAFile:    cfg.Custody.TLSClientCAFile,
		AllowInsecure:      cfg.Custody.AllowInsecure,
		Timeout:            time.Duration(cfg.Custody.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		logger.Error("Failed to configure custody bridge", slog.Any("error", err))
		os.Exit(1)
	}

	recorder := events.NewRecorder(0)
	engine := loan.NewEngine(owner, vault)
	engine.SetState(store)
	engine.SetTransferSender(bridge)
	engine.SetEmitter(recorder)
	engine.SetCommission(cfg.Loan.Commission)
	engine.SetRestrictSeize(cfg.Loan.RestrictSeize)
	if len(cfg.PausedModules) > 0 {
		paused := nativecommon.StaticPauses{}
		for _, module := range cfg.PausedModules {
			if trimmed := strings.TrimSpace(module); trimmed != "" {
				paused[trimmed] = true
			}
		}
		engine.SetPauses(paused)
	}

	reportStartupState(logger, store, engine)

	server := rpc.NewServer(engine, recorder, cfg.RPCAuthToken, cfg.RateLimit, cfg.RateBurst)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("config", filepath.Clean(*configFile)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("RPC server failed", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down cleanly", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// reportStartupState surfaces unresolved transfers left over from a previous
// run. They stay pending until the custody collaborator reports outcomes via
// loan_resolveTransfer; the ledger never retries on its own.
func reportStartupState(logger *slog.Logger, store *storage.Store, engine *loan.Engine) {
	pending, err := store.PendingList()
	if err != nil {
		logger.Warn("Failed to enumerate pending transfers", slog.Any("error", err))
	} else {
		observability.Ledger().SetPending(float64(len(pending)))
		for _, transfer := range pending {
			logger.Warn("Transfer awaiting resolution",
				slog.String("receipt", transfer.ID),
				slog.Uint64("kind", uint64(transfer.Kind)),
				slog.String("account", transfer.Account.String()),
			)
		}
	}

	active, err := engine.ActiveLoanCount()
	if err != nil {
		logger.Warn("Failed to count active loans", slog.Any("error", err))
		return
	}
	observability.Ledger().SetActiveLoans(float64(active))
}
