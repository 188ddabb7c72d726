package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"paygrid/config"
	"paygrid/core"
	"paygrid/crypto"
	"paygrid/observability/logging"
	"paygrid/observability/otel"
	"paygrid/rpc"
	"paygrid/storage"
)

const operatorPassEnv = "PAYGRID_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAYGRID_ENV"))
	logger := logging.Setup("paygrid", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	operatorKey, err := crypto.LoadOperatorKey(cfg.OperatorKeystorePath, os.Getenv(operatorPassEnv))
	if err != nil {
		logger.Error("failed to load operator key", slog.Any("error", err))
		os.Exit(1)
	}
	operatorAddr := operatorKey.PubKey().Address()

	admin, err := cfg.Genesis.GenesisAdmin(operatorAddr.Bytes())
	if err != nil {
		logger.Error("failed to resolve genesis admin", slog.Any("error", err))
		os.Exit(1)
	}
	feeRecipient, err := cfg.Genesis.GenesisFeeRecipient(admin)
	if err != nil {
		logger.Error("failed to resolve genesis fee recipient", slog.Any("error", err))
		os.Exit(1)
	}
	allocs := make([]core.TokenAllocation, 0, len(cfg.Genesis.Allocations))
	for _, raw := range cfg.Genesis.Allocations {
		owner, mint, balance, err := raw.Parse()
		if err != nil {
			logger.Error("failed to parse genesis allocation", slog.Any("error", err))
			os.Exit(1)
		}
		allocs = append(allocs, core.TokenAllocation{Owner: owner, Mint: mint, Balance: balance})
	}

	node := core.NewNode(db)
	if err := node.Bootstrap(admin, feeRecipient, cfg.Genesis.ProtocolFeeBps, cfg.Genesis.MaxPoliciesPerUser, allocs); err != nil {
		logger.Error("failed to bootstrap node", slog.Any("error", err))
		os.Exit(1)
	}

	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "paygrid",
			Environment: env,
			Endpoint:    endpoint,
			Insecure:    true,
			Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
			Metrics:     true,
			Traces:      true,
		})
		if err != nil {
			logger.Error("failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	rpcServer := rpc.NewServer(node)
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("paygrid node initialised and running",
		slog.String("addr", cfg.RPCAddress),
		slog.String("operator", operatorAddr.String()))

	if err, ok := <-rpcErrCh; ok && err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
