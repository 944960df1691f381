package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/brewline/api/internal/di"
	"github.com/brewline/api/internal/handlers"
	"github.com/brewline/api/internal/payments"
	"github.com/brewline/api/internal/platform/cache"
	"github.com/brewline/api/internal/platform/config"
	"github.com/brewline/api/internal/platform/events"
	"github.com/brewline/api/internal/platform/idempotency"
	"github.com/brewline/api/internal/platform/observability"
	ppostgres "github.com/brewline/api/internal/platform/postgres"
	"github.com/brewline/api/internal/platform/secrets"
	"github.com/brewline/api/internal/platform/stockclient"
	"github.com/brewline/api/internal/repositories"
	pgrepo "github.com/brewline/api/internal/repositories/postgres"
	"github.com/brewline/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	provider := ppostgres.NewProvider(cfg.Database)
	if cfg.Database.Migrate {
		if err := ppostgres.Migrate(ctx, provider); err != nil {
			logger.Fatal("failed to apply schema migrations", zap.Error(err))
		}
		logger.Info("schema migrations applied")
	}

	var healthChecks []repositories.DependencyCheck
	critical := append([]string(nil), services.DefaultCriticalDependencies...)
	var registryOpts []pgrepo.RegistryOption
	registryOpts = append(registryOpts, pgrepo.WithTxOptions(ppostgres.WithTxTimeout(cfg.Database.TxTimeout)))

	var redisClient *redis.Client
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		redisClient, err = newRedisClient(url)
		if err != nil {
			logger.Fatal("failed to initialise redis client", zap.Error(err))
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		client := redisClient
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}

	if cfg.Stock.Backend == config.StockBackendHTTP {
		stockClient, err := stockclient.New(stockclient.Config{
			BaseURL:      cfg.Stock.BaseURL,
			Token:        cfg.Stock.AuthToken,
			Timeout:      cfg.Stock.Timeout,
			QueryRetries: cfg.Stock.RetryAttempts,
		})
		if err != nil {
			logger.Fatal("failed to initialise stock client", zap.Error(err))
		}
		registryOpts = append(registryOpts, pgrepo.WithStockRepository(stockClient))
		healthChecks = append(healthChecks, repositories.DependencyCheck{
			Name:    "stock_service",
			Timeout: cfg.Stock.Timeout,
			Check:   stockClient.Ping,
		})
		// Completion cannot deduct stock without the inventory service.
		critical = append(critical, "stock_service")
	}
	registryOpts = append(registryOpts, pgrepo.WithHealthChecks(healthChecks...))

	registry, err := pgrepo.NewRegistry(provider, registryOpts...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	publisher, err := newEventPublisher(ctx, logger, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("order event publisher close error", zap.Error(err))
		}
	}()

	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		payments.SimulatedProviderName: payments.NewSimulatedProvider(payments.SimulatedProviderConfig{
			Delay:         cfg.Orders.PaymentDelay,
			DefaultMethod: cfg.Orders.PaymentMethod,
		}),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	gateway, err := payments.NewGateway(paymentManager)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	deps := di.Dependencies{
		Payments: gateway,
		Events:   publisher,
		Build:    buildInfo,
		Logger:   logger,

		CriticalDependencies: critical,
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
		deps.Metrics = metrics
	}

	if redisClient != nil {
		recipeCache, err := cache.NewRedisCache(redisClient, "recipes")
		if err != nil {
			logger.Fatal("failed to initialise recipe cache", zap.Error(err))
		}
		deps.RecipeCache = recipeCache
	}

	container, err := di.NewContainer(ctx, cfg, registry, deps)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	var idempotencyStore idempotency.Store
	if redisClient != nil {
		idempotencyStore = idempotency.NewRedisStore(redisClient)
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if redisClient == nil && cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.ActorMiddleware(),
		observability.RequestLoggerMiddleware(projectID),
	}
	if metrics != nil {
		middlewares = append(middlewares, metrics.MetricsMiddleware())
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, handlers.WithPayIdempotency(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	))

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithUserRoutes(orderHandlers.UserRoutes),
	}
	if metrics != nil {
		opts = append(opts, handlers.WithMetricsHandler(metrics.Handler()))
	}
	if cfg.Orders.EnablePickupReset {
		internalHandlers := handlers.NewInternalHandlers(container.Services.Pickups)
		opts = append(opts, handlers.WithInternalRoutes(internalHandlers.Routes))
		logger.Warn("pickup number reset endpoint enabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("brewline api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

type eventPublisher interface {
	services.OrderEventPublisher
	io.Closer
}

func newEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.EventsConfig) (eventPublisher, error) {
	switch cfg.Backend {
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.Topic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &pubsubPublisher{PubSubPublisher: publisher, client: client}, nil
	case config.EventsBackendKafka:
		writer, err := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.Topic)
		if err != nil {
			return nil, err
		}
		publisher, err := events.NewKafkaPublisher(writer)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		return publisher, nil
	default:
		return events.NewLogPublisher(logger.Named("events")), nil
	}
}

// pubsubPublisher closes the client after flushing the topic.
type pubsubPublisher struct {
	*events.PubSubPublisher
	client *pubsub.Client
}

func (p *pubsubPublisher) Close() error {
	return errors.Join(p.PubSubPublisher.Close(), p.client.Close())
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Secrets.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Events.PubSubProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := lookup("API_SECRETS_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookup("API_SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := lookup("API_SECRETS_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames marks a secret mandatory only when its env value is a secret reference.
func requiredSecretNames(env map[string]string) []string {
	fields := []struct {
		name string
		key  string
	}{
		{"Database.URL", "API_DATABASE_URL"},
		{"Redis.URL", "API_REDIS_URL"},
		{"Stock.AuthToken", "API_STOCK_AUTH_TOKEN"},
	}
	var required []string
	for _, field := range fields {
		value := strings.ToLower(strings.TrimSpace(env[field.key]))
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			required = append(required, field.name)
		}
	}
	return required
}
