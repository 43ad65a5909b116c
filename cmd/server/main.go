package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trustledger/internal/audit"
	audithandler "trustledger/internal/audit/handler"
	"trustledger/internal/audit/sink"
	auditmemory "trustledger/internal/audit/store/memory"
	auditpg "trustledger/internal/audit/store/postgres"
	"trustledger/internal/compliance"
	compliancehandler "trustledger/internal/compliance/handler"
	compliancememory "trustledger/internal/compliance/store/memory"
	compliancepg "trustledger/internal/compliance/store/postgres"
	"trustledger/internal/entity"
	"trustledger/internal/entity/store/gormstore"
	"trustledger/internal/erasure"
	erasurehandler "trustledger/internal/erasure/handler"
	erasurememory "trustledger/internal/erasure/store/memory"
	erasurepg "trustledger/internal/erasure/store/postgres"
	"trustledger/internal/jobs"
	jwttoken "trustledger/internal/jwt_token"
	"trustledger/internal/ledger"
	"trustledger/internal/platform/config"
	"trustledger/internal/platform/httpserver"
	"trustledger/internal/platform/kafka"
	"trustledger/internal/platform/logger"
	"trustledger/internal/platform/metrics"
	"trustledger/internal/platform/postgres"
	"trustledger/internal/platform/redis"
	"trustledger/internal/retention"
	"trustledger/internal/risk"
	"trustledger/internal/risk/aml"
	riskhandler "trustledger/internal/risk/handler"
	"trustledger/internal/risk/sca"
	"trustledger/internal/screening"
	httptransport "trustledger/internal/transport/http"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/circuit"
)

const shutdownTimeout = 15 * time.Second

// main wires high-level dependencies, exposes the HTTP router and runs the
// batch jobs until SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log, closer := logger.New(cfg.Log)

	err := run(cfg, log)
	if err != nil {
		log.Error("trustledger stopped with error", "error", err)
	}
	_ = closer.Close()
	if err != nil {
		os.Exit(1)
	}
}

// stores groups the index stores selected by configuration.
type stores struct {
	audit      audit.Store
	compliance compliance.Store
	erasure    erasure.Store
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	httpMetrics := metrics.New(reg)
	checks := map[string]httptransport.HealthCheck{}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if cfg.Database.Migrate {
			if err := postgres.Migrate(db); err != nil {
				return err
			}
		}
		checks["postgres"] = db.PingContext
	} else {
		log.Warn("DATABASE_URL not set, using in-memory index stores")
	}
	idx := newStores(db)

	entities, err := gormstore.Open(cfg.EntityDB.DSN)
	if err != nil {
		return err
	}

	auditMetrics := audit.NewMetrics(reg)
	backend, err := newLedger(cfg.Ledger, db, log)
	if err != nil {
		return err
	}
	guarded := ledger.NewGuarded(backend,
		ledger.WithBreaker(circuit.New("ledger",
			circuit.WithFailureThreshold(cfg.Ledger.FailureThreshold),
			circuit.WithCooldown(cfg.Ledger.Cooldown),
		)),
		ledger.WithGuardLogger(log),
		ledger.WithBreakerObserver(auditMetrics),
	)

	retentionEngine, err := retention.New(policy.Retention, idx.audit,
		retention.WithHoldRules(retention.HoldRulesFromPolicy(policy.LegalHolds, entities)...),
		retention.WithLogger(log),
		retention.WithMetrics(retention.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	recorderOpts := []audit.Option{
		audit.WithLogger(log),
		audit.WithMetrics(auditMetrics),
		audit.WithSanitizer(audit.NewSanitizer(policy.SensitiveKeys)),
		audit.WithDefaultLevels(defaultLevels(policy)),
	}
	buffered, producer, err := newSink(ctx, cfg.Kafka, reg, log)
	if err != nil {
		return err
	}
	if buffered != nil {
		defer producer.Close()
		recorderOpts = append(recorderOpts, audit.WithSink(buffered))
		checks["kafka"] = producer.Ping
	}
	recorder, err := audit.New(guarded, idx.audit, retentionEngine, recorderOpts...)
	if err != nil {
		return err
	}
	reconciler, err := audit.NewReconciler(guarded, idx.audit,
		audit.WithReconcilerLogger(log),
		audit.WithReconcilerMetrics(auditMetrics),
	)
	if err != nil {
		return err
	}

	complianceEngine, err := compliance.New(entities, idx.compliance, recorder, policy.MandatoryFields,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	pseudonymizer, err := erasure.NewPseudonymizer([]byte(cfg.PseudonymKey))
	if err != nil {
		return err
	}
	workflow, err := erasure.New(idx.erasure, entities, retentionEngine, recorder,
		erasure.WithPolicy(policy.Erasure),
		erasure.WithSchema(entity.DefaultSchema()),
		erasure.WithPseudonymizer(pseudonymizer),
		erasure.WithLogger(log),
		erasure.WithMetrics(erasure.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	lists, err := screening.LoadLists(cfg.ScreeningLists)
	if err != nil {
		return err
	}
	screener := screening.NewListScreener(lists)
	riskMetrics := risk.NewMetrics(reg)

	scaStores, err := newSCAStores(ctx, cfg.Redis, checks, log)
	if err != nil {
		return err
	}
	scaAssessor, err := sca.New(policy.SCA, scaStores, screener, recorder,
		sca.WithLogger(log),
		sca.WithMetrics(riskMetrics),
	)
	if err != nil {
		return err
	}
	amlAssessor, err := aml.New(policy.AML, entities, screener, recorder,
		aml.WithLogger(log),
		aml.WithMetrics(riskMetrics),
	)
	if err != nil {
		return err
	}

	scheduler := jobs.New(
		jobs.WithLogger(log),
		jobs.WithMetrics(jobs.NewMetrics(reg)),
		jobs.WithBaseContext(ctx),
	)
	if err := jobs.RegisterAll(scheduler, cfg.Jobs, jobs.Deps{
		Retention:  retentionEngine,
		Compliance: complianceEngine,
		Erasure:    workflow,
		Ledger:     reconciler,
	}); err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:    log,
		Metrics:   httpMetrics,
		Gatherer:  reg,
		Validator: jwttoken.NewJWTServiceAdapter(jwtService),
		Checks:    checks,
		Handlers: []httptransport.Registrar{
			audithandler.New(recorder, reconciler, log),
			compliancehandler.New(complianceEngine, log),
			erasurehandler.New(workflow, log),
			riskhandler.New(scaAssessor, amlAssessor, log),
			jobs.NewHandler(scheduler, log),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	sinkDone := make(chan error, 1)
	if buffered != nil {
		go func() { sinkDone <- buffered.Run(ctx) }()
	} else {
		close(sinkDone)
	}
	scheduler.Start()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting trustledger", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	stop()
	if err := <-sinkDone; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, fmt.Errorf("audit sink: %w", err))
	}
	return errors.Join(errs...)
}

func newStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			audit:      auditmemory.NewInMemoryStore(),
			compliance: compliancememory.NewInMemoryStore(),
			erasure:    erasurememory.NewInMemoryStore(),
		}
	}
	return stores{
		audit:      auditpg.New(db),
		compliance: compliancepg.New(db),
		erasure:    erasurepg.New(db),
	}
}

func newLedger(cfg config.LedgerConfig, db *sql.DB, log *slog.Logger) (ledger.Ledger, error) {
	switch cfg.Backend {
	case "file":
		return ledger.OpenFile(cfg.FilePath)
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres ledger requires DATABASE_URL")
		}
		return ledger.NewPostgres(db), nil
	case "memory", "":
		log.Warn("using the in-memory ledger, entries are lost on restart")
		return ledger.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// newSink connects the Kafka audit sink. It returns nils when no brokers are
// configured.
func newSink(ctx context.Context, cfg config.KafkaConfig, reg prometheus.Registerer, log *slog.Logger) (*sink.Buffered, *kafka.Producer, error) {
	producer, err := kafka.NewProducer(cfg)
	if err != nil || producer == nil {
		return nil, nil, err
	}
	if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", producer.Topic(), "error", err)
	}
	buffered, err := sink.NewBuffered(sink.NewKafkaPublisher(producer),
		sink.WithLogger(log),
		sink.WithMetrics(sink.NewMetrics(reg)),
	)
	if err != nil {
		producer.Close()
		return nil, nil, err
	}
	return buffered, producer, nil
}

func newSCAStores(ctx context.Context, cfg config.RedisConfig, checks map[string]httptransport.HealthCheck, log *slog.Logger) (sca.Stores, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return sca.Stores{}, err
	}
	if client == nil {
		log.Warn("REDIS_URL not set, SCA state is kept in process")
		mem := sca.NewMemoryStore()
		return sca.Stores{Attempts: mem, Frequency: mem, Devices: mem}, nil
	}
	checks["redis"] = client.Health
	rs := sca.NewRedisStore(client.Client)
	return sca.Stores{Attempts: rs, Frequency: rs, Devices: rs}, nil
}

func defaultLevels(p config.Policy) map[domain.EntityType]domain.ComplianceLevel {
	out := make(map[domain.EntityType]domain.ComplianceLevel, len(p.DefaultLevels))
	for entityType, level := range p.DefaultLevels {
		out[domain.EntityType(entityType)] = level
	}
	return out
}
