// Command settlementd runs the settlement engine behind an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/config"
	"github.com/yourorg/settlement-engine/internal/contract"
	"github.com/yourorg/settlement-engine/internal/events"
	"github.com/yourorg/settlement-engine/internal/gateway"
	"github.com/yourorg/settlement-engine/internal/gateway/httpgw"
	"github.com/yourorg/settlement-engine/internal/handler"
	"github.com/yourorg/settlement-engine/internal/logging"
	"github.com/yourorg/settlement-engine/internal/orchestrator"
	"github.com/yourorg/settlement-engine/internal/payment"
	"github.com/yourorg/settlement-engine/internal/policy"
	"github.com/yourorg/settlement-engine/internal/repository"
	"github.com/yourorg/settlement-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("settlementd exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := gateway.NewMetrics(registry)

	resolver, err := buildResolver(cfg, metrics)
	if err != nil {
		return err
	}

	engine := orchestrator.New(resolver, handler.NewDefaultRegistry(), logger)

	var validator *contract.Validator
	if cfg.Contract.SchemaPath != "" {
		validator, err = contract.NewValidatorFromFile(cfg.Contract.SchemaPath)
		if err != nil {
			return err
		}
	}

	var enforcer *policy.Enforcer
	if len(cfg.ReviewRules) > 0 {
		enforcer, err = policy.NewEnforcer(cfg.ReviewRules)
		if err != nil {
			return err
		}
	}

	var persister Persister
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		persister = repository.New(pool)
	}

	var publisher Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		p := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer p.Close()
		publisher = p
	}

	server := NewServer(engine, validator, enforcer, persister, publisher, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      server.Routes(registry),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlementd listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildResolver turns the configured stores into gateway maps. Every remote
// gateway is wrapped with the circuit breaker and metrics decorators.
func buildResolver(cfg config.Config, metrics *gateway.Metrics) (*store.Resolver, error) {
	repo := store.NewInMemoryRepository()
	var registered []gateway.PaymentGateway

	for _, sc := range cfg.Stores {
		st := &store.Store{Code: sc.Code, Gateways: make(map[payment.PaymentType]gateway.PaymentGateway)}
		for rawType, baseURL := range sc.Gateways {
			pt := payment.PaymentType(rawType)
			gw := gateway.WithMetrics(gateway.WithBreaker(httpgw.New(pt, baseURL, nil), gateway.NewBreaker()), metrics)
			st.Gateways[pt] = gw
			registered = append(registered, gw)
		}
		repo.Add(st)
	}

	return store.NewResolver(repo, registered...), nil
}
