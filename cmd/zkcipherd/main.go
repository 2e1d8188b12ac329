// Command zkcipherd runs the proof pipeline daemon: the REST API, the
// asynchronous job workers, the proof archive and the optional chain
// anchoring layer.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ZKCipherAI/internal/api"
	"ZKCipherAI/internal/auth"
	"ZKCipherAI/internal/config"
	"ZKCipherAI/internal/ledger"
	"ZKCipherAI/internal/ledger/provider"
	"ZKCipherAI/internal/observability/alerting"
	"ZKCipherAI/internal/pipeline"
	"ZKCipherAI/internal/proof"
	"ZKCipherAI/internal/proofjob"
	"ZKCipherAI/internal/storage/mysql"
	"ZKCipherAI/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("zkcipherd failed: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ZKCIPHER_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "zkcipher.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	var anchorClient ledger.Client
	var confirmInterval time.Duration
	var confirmAttempts int
	if cfg.Ledger.Enabled {
		chainRegistry, err := provider.NewRegistry(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer chainRegistry.Close()

		anchorClient, err = chainRegistry.DefaultClient()
		if err != nil {
			return err
		}
		confirmInterval, confirmAttempts = chainRegistry.ConfirmPolicy(chainRegistry.DefaultChain())
	}

	registry := proof.NewRegistry()
	engine := proof.NewEngine(registry, proof.NewProofCache(cfg.ProofCacheTTLDuration()))

	var verifierOpts []proof.VerifierOption
	if anchorClient != nil {
		verifierOpts = append(verifierOpts, proof.WithAnchorChecker(pipeline.NewAnchorChecker(anchorClient)))
	}
	verifier := proof.NewVerifier(registry, proof.NewVerificationCache(cfg.VerificationCacheTTLDuration()), verifierOpts...)

	var coordinatorOpts []proof.CoordinatorOption
	if cfg.Proof.BatchWorkers > 0 {
		coordinatorOpts = append(coordinatorOpts, proof.WithBatchConcurrency(cfg.Proof.BatchWorkers))
	}
	if linger := cfg.FlushLingerDuration(); linger > 0 {
		coordinatorOpts = append(coordinatorOpts, proof.WithFlushLinger(linger))
	}
	coordinator := proof.NewCoordinator(engine, coordinatorOpts...)

	pipelineOpts := []pipeline.Option{
		pipeline.WithArchive(archive),
		pipeline.WithTrustThreshold(cfg.Proof.TrustThreshold),
	}
	if anchorClient != nil {
		pipelineOpts = append(pipelineOpts,
			pipeline.WithAnchorLedger(anchorClient),
			pipeline.WithConfirmPolicy(confirmInterval, confirmAttempts),
		)
	}
	p := pipeline.New(engine, verifier, coordinator, pipelineOpts...)
	defer p.Close()

	jobStore, err := buildJobStore(cfg)
	if err != nil {
		return err
	}
	jobQueue, err := buildJobQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			logger.L().Warn("closing job queue failed", "error", err)
		}
	}()

	jobService := proofjob.NewService(jobStore, jobQueue, cfg.Jobs.MaxRetries)
	defer func() { _ = jobService.Close() }()

	processorOpts := []proofjob.ProcessorOption{
		proofjob.WithWorkerCount(cfg.Jobs.Workers),
	}
	if dispatcher := buildAlertDispatcher(cfg); dispatcher != nil {
		processorOpts = append(processorOpts, proofjob.WithAlertDispatcher(dispatcher))
	}
	processor := proofjob.NewProcessor(p, jobStore, jobQueue, jobQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("job processor exited", "error", err)
		}
	}()

	serverOpts := []api.ServerOption{}
	if authService, err := buildAuthService(cfg); err != nil {
		return fmt.Errorf("build auth service: %w", err)
	} else if authService.Enabled() {
		serverOpts = append(serverOpts, api.WithAuthService(authService))
	}
	server := api.NewServer(cfg.Server.Address, p, jobService, serverOpts...)

	logger.L().Info("zkcipherd starting", "address", cfg.Server.Address)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildArchive(ctx context.Context, cfg *config.Config) (mysql.ProofArchive, error) {
	switch cfg.Archive.Driver {
	case "", "file":
		return mysql.NewFileArchive(cfg.Archive.Dir)
	case "mysql":
		return mysql.NewSQLArchive(ctx, mysql.Config{
			DSN:             cfg.Archive.MySQL.DSN,
			MaxOpenConns:    cfg.Archive.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Archive.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Archive.MySQL.ConnMaxLifetimeDuration(),
		})
	default:
		return nil, fmt.Errorf("unknown archive driver: %s", cfg.Archive.Driver)
	}
}

func buildJobStore(cfg *config.Config) (proofjob.Store, error) {
	switch cfg.Jobs.Store.Driver {
	case "", "memory":
		return proofjob.NewMemoryStore(), nil
	case "mysql":
		return proofjob.NewMySQLStore(cfg.Jobs.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown job store driver: %s", cfg.Jobs.Store.Driver)
	}
}

func buildJobQueue(cfg *config.Config) (proofjob.Queue, error) {
	switch cfg.Jobs.Queue.Driver {
	case "", "memory":
		return proofjob.NewMemoryQueue(1024), nil
	case "redis":
		return proofjob.NewRedisQueue(proofjob.RedisQueueConfig{
			Address:  cfg.Jobs.Queue.Redis.Address,
			Password: cfg.Jobs.Queue.Redis.Password,
			DB:       cfg.Jobs.Queue.Redis.DB,
			Queue:    cfg.Jobs.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return proofjob.NewRabbitMQQueue(proofjob.RabbitMQConfig{
			URL:      cfg.Jobs.Queue.RabbitMQ.URL,
			Queue:    cfg.Jobs.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Jobs.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Jobs.Queue.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("unknown job queue driver: %s", cfg.Jobs.Queue.Driver)
	}
}

func buildAlertDispatcher(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.Webhook.Enabled && cfg.Alerting.Webhook.URL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			Sender: alerting.NewHTTPWebhookSender(cfg.Alerting.Webhook.URL),
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}

func buildAuthService(cfg *config.Config) (*auth.Service, error) {
	seeds := make([]auth.TokenSeed, 0, len(cfg.Auth.Tokens))
	for _, token := range cfg.Auth.Tokens {
		seeds = append(seeds, auth.TokenSeed{
			Token:       token.Token,
			Name:        token.Name,
			Permissions: token.Permissions,
			Disabled:    token.Disabled,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(cfg.Auth.Mode)}, auth.NewMemoryStore(seeds...))
}
