package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jacksonlee411/statutory-payroll/internal/config"
	"github.com/jacksonlee411/statutory-payroll/internal/logging"
	"github.com/jacksonlee411/statutory-payroll/internal/metrics"
	auditports "github.com/jacksonlee411/statutory-payroll/modules/audit/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/infrastructure/escalation"
	auditpersistence "github.com/jacksonlee411/statutory-payroll/modules/audit/infrastructure/persistence"
	"github.com/jacksonlee411/statutory-payroll/modules/audit/infrastructure/publisher"
	auditservices "github.com/jacksonlee411/statutory-payroll/modules/audit/services"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/ports"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/domain/types"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/infrastructure/persistence"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/infrastructure/schedule"
	"github.com/jacksonlee411/statutory-payroll/modules/payroll/services"
	"github.com/jacksonlee411/statutory-payroll/pkg/authz"
	"github.com/jacksonlee411/statutory-payroll/pkg/guardrail"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// bootstrapActor loads a -rates file into in-memory stores.
var bootstrapActor = types.Actor{ID: "payrollctl", Role: authz.RoleSystem}

type app struct {
	cfg      config.Config
	logger   *zap.Logger
	authz    *authz.Authorizer
	registry *services.RateRegistry
	engine   *services.DeductionEngine
	recorder *auditservices.Recorder
	pool     *pgxpool.Pool
	closers  []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })
	m := metrics.New(prometheus.NewRegistry())

	if a.authz, err = authz.Load(cfg.AuthzModelPath, cfg.AuthzPolicyPath, cfg.AuthzMode); err != nil {
		a.close()
		return nil, fmt.Errorf("authz: %w", err)
	}
	checker, err := guardrail.Load(ctx, cfg.GuardrailPolicy)
	if err != nil {
		a.close()
		return nil, err
	}

	var rateStore ports.RateSetStore = persistence.NewMemoryStore()
	var auditStore auditports.Store = auditpersistence.NewMemoryStore()
	if cfg.UsesPostgres() {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		rateStore = persistence.NewRateSetPGStore(pool)
		auditStore = auditpersistence.NewPGStore(pool)
	}

	var escalator auditports.Escalator
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = client.Close() })
		escalator = escalation.NewRedisQueue(client, cfg.AuditEscalationKey)
	}
	var pub auditports.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		w := publisher.NewWriter(cfg.KafkaBrokers, cfg.AuditTopic, logger)
		a.closers = append(a.closers, func() { _ = w.Close() })
		pub = publisher.New(w)
	}

	a.recorder = auditservices.NewRecorder(auditStore, escalator, pub, auditservices.Options{
		Logger:       logger,
		Metrics:      m,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.AuditRetryAttempts,
	})
	opts := services.Options{
		Authorizer:   a.authz,
		Guardrail:    checker,
		Logger:       logger,
		Metrics:      m,
		WriteTimeout: cfg.WriteTimeout,
		Concurrency:  cfg.BatchConcurrency,
	}
	a.registry = services.NewRateRegistry(rateStore, a.recorder, opts)
	a.engine = services.NewDeductionEngine(a.registry, a.recorder, opts)

	logger.Debug("payrollctl ready",
		zap.Bool("postgres", cfg.UsesPostgres()),
		zap.Bool("escalation", escalator != nil),
		zap.Bool("publish", pub != nil),
		zap.String("authz_mode", string(cfg.AuthzMode)))
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// preload creates the rate sets in path when the stores are in memory, so
// one invocation can resolve and calculate against a schedule file.
func (a *app) preload(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if a.cfg.UsesPostgres() {
		return fmt.Errorf("-rates is only supported without a database; use import-rates")
	}
	sets, err := schedule.Load(path)
	if err != nil {
		return err
	}
	for _, rs := range sets {
		if _, err := a.registry.Create(ctx, bootstrapActor, rs); err != nil {
			return fmt.Errorf("preload %s: %w", rs.ID, err)
		}
	}
	return nil
}

// requireAudit guards audit commands, which have no service-level check.
func (a *app) requireAudit(actor types.Actor, action string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	shadow, err := a.authz.Require(actor.Role, authz.ObjectAudit, action)
	if err != nil {
		return err
	}
	if shadow {
		a.logger.Warn("authz shadow deny", zap.String("role", actor.Role), zap.String("object", authz.ObjectAudit), zap.String("action", action))
	}
	return nil
}
