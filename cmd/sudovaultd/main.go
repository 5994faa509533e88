package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"sudovault/config"
	"sudovault/native/vault"
	"sudovault/observability/logging"
	"sudovault/observability/metrics"
	telemetry "sudovault/observability/otel"
	"sudovault/rpc"
	"sudovault/services/relay"
	"sudovault/storage"
)

const rpcTokenEnv = "SUDOVAULT_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SUDOVAULT_ENV"))
	logger := logging.Setup("sudovaultd", env)

	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "sudovaultd",
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to init telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := storage.NewVaultStore(db)
	created, err := store.Init(vault.NewState(vault.AccountID(cfg.Owner), cfg.VaultIndex, cfg.VaultVersion))
	if err != nil {
		logger.Error("Failed to initialize vault state", slog.Any("error", err))
		os.Exit(1)
	}
	if created {
		logger.Info("Initialized vault state",
			slog.String("owner", cfg.Owner),
			slog.Uint64("index", cfg.VaultIndex),
			slog.Uint64("version", cfg.VaultVersion))
	}

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		authToken = cfg.RPCAuthToken
	}

	engine := vault.NewEngine()
	engine.SetState(store)
	engine.SetMetrics(metrics.Vault())
	engine.SetEmitter(logEmitter{logger: logger.With("component", "events")})
	if cfg.EpochSeconds > 0 {
		seconds := cfg.EpochSeconds
		engine.SetEpochFunc(func() uint64 {
			return uint64(nowUnix() / seconds)
		})
	}

	if cfg.RelayerURL != "" {
		client := relay.NewClient(cfg.RelayerURL, authToken)
		engine.SetStakingPool(client)
		engine.SetTokenTransfer(client)
	} else {
		logger.Warn("RelayerURL not configured; staking and token calls cannot be issued")
	}

	server := rpc.NewServer(engine, authToken)
	if err := server.Start(cfg.ListenAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
