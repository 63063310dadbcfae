// Command server runs the intent gateway: the HTTP API, the escalation
// timeout sweep, and the retention cleanup, with leader election gating the
// background tasks across replicas.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/intentgate/backend/internal/api"
	"github.com/intentgate/backend/internal/audit"
	"github.com/intentgate/backend/internal/circuitbreaker"
	"github.com/intentgate/backend/internal/config"
	"github.com/intentgate/backend/internal/consent"
	"github.com/intentgate/backend/internal/cryptoutil"
	"github.com/intentgate/backend/internal/escalation"
	"github.com/intentgate/backend/internal/events"
	"github.com/intentgate/backend/internal/intent"
	"github.com/intentgate/backend/internal/kv"
	"github.com/intentgate/backend/internal/metrics"
	"github.com/intentgate/backend/internal/multitenancy"
	"github.com/intentgate/backend/internal/queue"
	"github.com/intentgate/backend/internal/scheduler"
	"github.com/intentgate/backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if os.IsNotExist(err) {
		slog.Warn("config file missing, using defaults", "path", configPath)
		cfg = &config.Config{}
		cfg.ApplyDefaults()
	} else if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tenants, err := config.NewManager(cfg, os.Getenv("TENANTS_PATH"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	st, err := store.Open(cfg.Database.DSN, store.Options{
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		StatementTimeout: cfg.Database.StatementTimeout(),
	})
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	codec, err := store.NewFieldCodec(cfg.Intent.EncryptionKeyHex)
	if err != nil {
		return err
	}

	intentRepo := store.NewIntentRepo(st, codec)
	consentRepo := store.NewConsentRepo(st)
	escalationRepo := store.NewEscalationRepo(st, codec)
	auditRepo := store.NewAuditRepo(st)

	// Redis. The service degrades without it: no dedupe locks, no escalation
	// cache, no leader election.
	var kvClient kv.Client
	adapter, err := kv.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		slog.Warn("Redis unavailable, running degraded", "error", err)
	} else {
		kvClient = adapter
	}

	// Submission queue
	var q queue.Queue
	if cfg.Queue.Project != "" {
		ctq, err := queue.NewCloudTasksQueue(ctx, cfg.Queue.Project, cfg.Queue.Location, cfg.Queue.TargetURL)
		if err != nil {
			return err
		}
		defer ctq.Close()
		q = ctq
	} else {
		slog.Warn("no queue project configured, using in-memory queue")
		q = queue.NewMemoryQueue()
	}

	// Lifecycle event bus
	var emitter events.Emitter
	if cfg.Queue.Topic != "" {
		pb, err := events.NewPubSubBus(cfg.Queue.Project, cfg.Queue.Topic)
		if err != nil {
			return err
		}
		defer pb.Close()
		emitter = pb
	} else {
		emitter = events.NewBus()
	}

	breakers := circuitbreaker.NewServiceBreakers()
	mets := metrics.NewDefault()

	// Domain services
	consentSvc := consent.NewService(consentRepo, breakers.Consent, nil, emitter)
	escalationSvc := escalation.NewService(escalationRepo, kvClient, breakers.Escalation, nil, emitter,
		escalation.Options{
			DefaultTimeout: cfg.Escalation.DefaultTimeout,
			CacheTTL:       cfg.Escalation.CacheTTL(),
		})
	intentSvc := intent.NewService(intent.Deps{
		Repo:     intentRepo,
		Tenants:  tenants,
		KV:       kvClient,
		Queue:    q,
		Consents: consentSvc,
		Breakers: breakers,
		Metrics:  mets,
		Emitter:  emitter,
		Config:   cfg.Intent,
	})
	// Review verdicts drive the escalated intent's status.
	escalationSvc.BindIntents(intentSvc)

	// Audit chain signer
	var signingKey *cryptoutil.SigningKey
	if seed := cfg.Security.AuditSigningSeedHex; seed != "" {
		signingKey, err = cryptoutil.SigningKeyFromSeedHex(seed)
	} else {
		slog.Warn("no audit signing seed configured, generating ephemeral key")
		signingKey, err = cryptoutil.GenerateSigningKey()
	}
	if err != nil {
		return err
	}
	auditor := audit.NewRecorder(auditRepo, signingKey, nil)

	// Background tasks run only on the elected leader.
	sched := scheduler.New(
		scheduler.NewTask("escalation-sweep", cfg.Scheduler.SweepInterval(), func(ctx context.Context) error {
			n, err := escalationSvc.ProcessTimeouts(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("escalation sweep", "timed_out", n)
			}
			return nil
		}),
		scheduler.NewTask("retention-cleanup", cfg.Scheduler.CleanupInterval(), func(ctx context.Context) error {
			n, err := intentSvc.PurgeDeleted(ctx, cfg.Database.RetentionDays)
			if err != nil {
				return err
			}
			if n > 0 {
				slog.Info("retention cleanup", "purged", n)
			}
			return nil
		}),
	)

	if kvClient != nil {
		elector := kv.NewLeaderElector(kvClient, cfg.Scheduler.LeaderKey,
			cfg.Scheduler.LeaderLease(), cfg.Scheduler.LeaderLease()/3)
		elector.OnElected = func() { sched.StartAll(ctx) }
		elector.OnDemoted = sched.StopAll
		elector.Start(ctx)
		defer elector.Stop()
	} else {
		// Single instance without Redis runs the tasks unconditionally.
		sched.StartAll(ctx)
	}
	defer sched.StopAll()

	server := api.NewServer(api.Deps{
		Intents:     intentSvc,
		Escalations: escalationSvc,
		Consents:    consentSvc,
		Auditor:     auditor,
		Breakers:    breakers,
		Auth:        multitenancy.NewAuthenticator(cfg.Security.APIKeyHashes),
		Production:  cfg.Server.Production(),
	})

	slog.Info("intent gateway starting",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
		"redis", kvClient != nil,
		"retention_days", cfg.Database.RetentionDays)

	err = server.Serve(ctx, ":"+cfg.Server.Port)
	slog.Info("intent gateway stopped")

	// Give in-flight scheduler runs a moment before the process exits.
	time.Sleep(100 * time.Millisecond)
	return err
}
