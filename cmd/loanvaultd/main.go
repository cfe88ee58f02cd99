package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"loanvault/config"
	"loanvault/core"
	"loanvault/core/state"
	"loanvault/core/types"
	"loanvault/crypto"
	nativecommon "loanvault/native/common"
	"loanvault/native/loan"
	"loanvault/native/quorum"
	"loanvault/native/reserve"
	"loanvault/observability"
	"loanvault/observability/logging"
	"loanvault/rpc"
	"loanvault/storage"
)

const genesisAppliedKey = "genesis/applied"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.toml", "path to the configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "loanvaultd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logWriter := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   filepath.Join(cfg.DataDir, "logs", "loanvaultd.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
	logger := logging.SetupWithWriter("loanvaultd", cfg.NetworkName, logWriter)

	dbPath := filepath.Join(cfg.DataDir, "db")
	db, err := storage.NewLevelDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database at %s: %w", dbPath, err)
	}
	defer db.Close()

	ledgerState := state.NewLedgerState(db)
	if err := applyGenesis(db, ledgerState, cfg.Genesis, logger); err != nil {
		return fmt.Errorf("apply genesis allocations: %w", err)
	}

	poolAddr := crypto.ModuleAddress("pool")
	collateralAddr := crypto.ModuleAddress("collateral")
	collectorAddr := crypto.ModuleAddress("collector")

	loans := loan.NewEngine(poolAddr, collateralAddr, collectorAddr, cfg.Loan.Params())
	loans.SetState(ledgerState)
	loans.SetInterestPolicy(loan.FixedRatePolicy{RateBps: cfg.Loan.InterestRateBps})
	loans.SetCommissionPolicy(loan.FlatBpsCommission{Bps: cfg.Loan.CommissionBps})

	recipient := poolAddr
	if trimmed := strings.TrimSpace(cfg.Reserve.RecipientAddress); trimmed != "" {
		recipient, err = crypto.DecodeAddress(trimmed)
		if err != nil {
			return fmt.Errorf("invalid reserve recipient: %w", err)
		}
	}
	pool := reserve.NewEngine(poolAddr, recipient)
	pool.SetState(ledgerState)

	if len(cfg.PausedModules) > 0 {
		pauses := nativecommon.NewStaticPauses(cfg.PausedModules)
		loans.SetPauses(pauses)
		pool.SetPauses(pauses)
		logger.Warn("modules paused by configuration", slog.Any("modules", cfg.PausedModules))
	}

	owners, err := cfg.OwnerAddresses()
	if err != nil {
		return fmt.Errorf("decode owners: %w", err)
	}
	authorizer, err := quorum.NewAuthorizer(owners, cfg.QuorumThreshold)
	if err != nil {
		return fmt.Errorf("build authorizer: %w", err)
	}

	emitter := observability.NewLedgerEmitter(logger, nil)
	loans.SetEmitter(emitter)
	pool.SetEmitter(emitter)
	authorizer.SetEmitter(emitter)

	ledger := core.NewLedger(loans, pool, authorizer)

	logger.Info("node configured",
		slog.String("network", cfg.NetworkName),
		slog.Int("owners", len(owners)),
		slog.Int("threshold", cfg.QuorumThreshold),
		slog.String("pool", poolAddr.String()),
		slog.String("collateral", collateralAddr.String()))

	server := rpc.NewServer(ledger, logger)
	return server.Start(cfg.RPCAddress)
}

// applyGenesis seeds the configured balances exactly once per data directory.
func applyGenesis(db storage.Database, ledgerState *state.LedgerState, allocations []config.Allocation, logger *slog.Logger) error {
	applied, err := db.Has([]byte(genesisAppliedKey))
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range allocations {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(alloc.Address))
		if err != nil {
			return fmt.Errorf("invalid genesis address %q: %w", alloc.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.BalanceWei), 10)
		if !ok || balance.Sign() < 0 {
			return fmt.Errorf("invalid genesis balance %q for %s", alloc.BalanceWei, alloc.Address)
		}
		if err := ledgerState.PutAccount(addr, &types.Account{BalanceWei: balance}); err != nil {
			return err
		}
		logger.Info("genesis allocation applied",
			slog.String("address", addr.String()),
			slog.String("balanceWei", balance.String()))
	}
	return db.Put([]byte(genesisAppliedKey), []byte{1})
}
