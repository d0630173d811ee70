package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"vouchex/config"
	"vouchex/core"
	"vouchex/observability/logging"
	"vouchex/rpc"
	"vouchex/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logging is not configured yet; write directly and exit.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("vouchexd", cfg.Environment)

	admin, err := config.ParseAddress(cfg.AdminAddress)
	if err != nil {
		logger.Error("invalid admin address", "error", err.Error())
		os.Exit(1)
	}
	escrowPool, err := config.ParseAddress(cfg.EscrowPoolAddress)
	if err != nil {
		logger.Error("invalid escrow pool address", "error", err.Error())
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DataDir, "error", err.Error())
		os.Exit(1)
	}

	node, err := core.NewNode(db, core.Options{
		Admin:             admin,
		EscrowPool:        escrowPool,
		ComplainPeriod:    cfg.ComplainPeriodSecs,
		CancelFaultPeriod: cfg.CancelFaultPeriodSecs,
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to initialise node", "error", err.Error())
		db.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := rpc.NewServer(node, logger)
	logger.Info("rpc server listening", "address", cfg.RPCAddress)
	if err := server.Listen(ctx, cfg.RPCAddress); err != nil && err != context.Canceled {
		logger.Error("rpc server stopped", "error", err.Error())
	}

	node.Close()
	logger.Info("shutdown complete")
}
