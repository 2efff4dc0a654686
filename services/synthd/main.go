package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"dshares/core/types"
	"dshares/native/synth"
	"dshares/observability"
	"dshares/observability/logging"
	telemetry "dshares/observability/otel"
	"dshares/services/synthd/adapters"
	"dshares/services/synthd/bridge"
	"dshares/services/synthd/config"
	"dshares/services/synthd/oracle"
	"dshares/services/synthd/server"
	synthstore "dshares/services/synthd/storage"
	"dshares/state"
	"dshares/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/synthd/config.yaml", "path to synthd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DSHARES_ENV"))
	logging.Setup("synthd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "synthd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("synthd: load config: %v", err)
	}

	dsn, err := synthstore.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("synthd: resolve storage DSN: %v", err)
	}
	store, err := synthstore.Open(dsn)
	if err != nil {
		log.Fatalf("synthd: open storage: %v", err)
	}
	defer store.Close()

	kv, err := storage.NewLevelDB(cfg.StatePath)
	if err != nil {
		log.Fatalf("synthd: open state db: %v", err)
	}
	defer kv.Close()
	manager := state.NewManager(kv)

	registry := adapters.NewRegistry()
	sources := make([]oracle.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := registry.Build(src.Name, src.Type, src.Endpoint, src.APIKey, src.Price)
		if err != nil {
			log.Fatalf("synthd: build source %s: %v", src.Name, err)
		}
		sources = append(sources, built)
	}

	prices, err := oracle.New(store, sources, cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds)
	if err != nil {
		log.Fatalf("synthd: oracle manager: %v", err)
	}

	params, err := engineParams(cfg.Engine)
	if err != nil {
		log.Fatalf("synthd: engine params: %v", err)
	}
	authority, err := cfg.Engine.AuthorityAddress()
	if err != nil {
		log.Fatalf("synthd: authority: %v", err)
	}

	engine, err := synth.NewEngine(synth.EngineConfig{
		Params:     params,
		Store:      manager,
		Dispatcher: bridge.NewRelay(log.Default()),
		Token:      bridge.NewTokenBook(manager),
		Oracle:     prices,
		Settlement: bridge.NewTreasury(store, log.Default()),
		Authority:  authority,
		Events: func(evt *types.Event) {
			attrs := make([]any, 0, len(evt.Attributes)*2)
			for key, value := range evt.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
			slog.Info(evt.Type, attrs...)
		},
		Metrics: observability.Synth(),
	})
	if err != nil {
		log.Fatalf("synthd: engine: %v", err)
	}

	authenticator, err := server.NewAuthenticator(server.AuthConfig{BearerToken: cfg.Admin.BearerToken})
	if err != nil {
		log.Fatalf("synthd: configure auth: %v", err)
	}
	srv, err := server.New(server.Config{ListenAddress: cfg.ListenAddress}, engine, store, authority, log.Default(), authenticator)
	if err != nil {
		log.Fatalf("synthd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := prices.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("synthd: oracle manager exited: %v", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("synthd: http server error: %v", err)
		os.Exit(1)
	}
}

func engineParams(cfg config.EngineConfig) (synth.Params, error) {
	params := synth.DefaultParams()
	if cfg.CollateralRatio > 0 {
		params.CollateralRatio = cfg.CollateralRatio
	}
	if floor := cfg.MinWithdrawal(); floor != nil {
		params.MinWithdrawalWei = floor
	}
	if cfg.FulfillGasLimit > 0 {
		params.FulfillGasLimit = cfg.FulfillGasLimit
	}
	params.Sequential = cfg.Sequential
	params.FailOnOracleError = cfg.FailOnOracleError
	if path := strings.TrimSpace(cfg.MintSourcePath); path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return params, err
		}
		params.MintSource = string(body)
	}
	if path := strings.TrimSpace(cfg.RedeemSourcePath); path != "" {
		body, err := os.ReadFile(path)
		if err != nil {
			return params, err
		}
		params.RedeemSource = string(body)
	}
	return params, params.Validate()
}
