package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compilebox/internal/common/cache"
	commonmw "compilebox/internal/common/http/middleware"
	"compilebox/internal/common/mq"
	"compilebox/internal/compile/controller"
	"compilebox/internal/compile/repository"
	"compilebox/internal/compile/service"
	"compilebox/internal/sandbox"
	"compilebox/internal/sandbox/engine"
	"compilebox/internal/sandbox/observer"
	"compilebox/internal/sandbox/runner"
	"compilebox/internal/sandbox/workspace"
	"compilebox/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultConfigPath  = "configs/compile_service.yaml"
	defaultEnvPath     = ".env"
	enginePrepareLimit = 5 * time.Minute
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	envPath := flag.String("env", defaultEnvPath, "Path to optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		os.Exit(1)
	}

	appCfg, err := loadAppConfig(*configPath, *configPath == defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "compile service exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	eng, err := engine.NewEngine(appCfg.Sandbox.Config)
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}
	if closer, ok := eng.(interface{ Close() error }); ok {
		defer func() {
			_ = closer.Close()
		}()
	}
	if preparer, ok := eng.(engine.Preparer); ok {
		prepCtx, cancel := context.WithTimeout(ctx, enginePrepareLimit)
		err := preparer.Prepare(prepCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("prepare sandbox engine failed: %w", err)
		}
	}

	workspaces, err := workspace.NewManager(appCfg.Sandbox.WorkRoot)
	if err != nil {
		return fmt.Errorf("init workspace root failed: %w", err)
	}
	if removed, err := workspaces.Sweep(appCfg.Sandbox.WorkspaceMaxAge); err != nil {
		logger.Warn(ctx, "sweep stale workspaces failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info(ctx, "removed stale workspaces", zap.Int("count", removed))
	}

	var (
		metrics  observer.MetricsRecorder = observer.NoopMetricsRecorder{}
		registry *prometheus.Registry
	)
	if appCfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observer.NewPrometheusRecorder(registry)
	}

	workerOpts := []sandbox.WorkerOption{sandbox.WithMetrics(metrics)}
	if appCfg.Kafka.enabled() {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka producer failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := producer.Ping(pingCtx); err != nil {
			logger.Warn(ctx, "kafka broker unreachable, job events may be dropped", zap.Error(err))
		}
		cancel()
		publisher := repository.NewJobEventPublisher(producer, appCfg.Kafka.Topic, appCfg.Kafka.FinalOnly, appCfg.Kafka.SendTimeout)
		workerOpts = append(workerOpts, sandbox.WithStatusReporter(publisher))
	}

	limiter, closeLimiter, err := buildLimiter(appCfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	jobRunner := runner.NewRunnerWithObserver(eng, metrics)
	worker := sandbox.NewWorker(sandbox.Config{
		Language:       appCfg.Sandbox.Language,
		CompileProfile: appCfg.Sandbox.compileProfile(),
		RunProfile:     appCfg.Sandbox.runProfile(),
		Source:         appCfg.Sandbox.sourceOptions(),
		AllowDebug:     appCfg.Sandbox.AllowDebug,
	}, workspaces, jobRunner, eng.Name(), workerOpts...)

	compileService := service.NewCompileService(service.Config{
		Executor:   worker,
		Runner:     jobRunner,
		Capacity:   service.NewCapacityLimiter(appCfg.Sandbox.MaxConcurrentJobs, appCfg.Sandbox.QueueTimeout),
		Metrics:    metrics,
		Language:   appCfg.Sandbox.Language,
		Source:     appCfg.Sandbox.sourceOptions(),
		Isolation:  eng.Name(),
		JobTimeout: appCfg.Sandbox.JobTimeout,
	})

	httpServer := buildHTTPServer(appCfg, compileService, limiter, metrics, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "compile http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("isolation", eng.Name()),
			zap.Int("max_concurrent_jobs", appCfg.Sandbox.MaxConcurrentJobs),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdown, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdown); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildLimiter(appCfg *AppConfig) (commonmw.Limiter, func(), error) {
	noop := func() {}
	if !appCfg.RateLimit.Enabled {
		return nil, noop, nil
	}
	if appCfg.RateLimit.Backend == "local" {
		return service.NewLocalRateLimiter(10 * appCfg.RateLimit.Window), noop, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		if !appCfg.RateLimit.FailOpen {
			return nil, noop, fmt.Errorf("init redis failed: %w", err)
		}
		logger.Warn(context.Background(), "redis unavailable, falling back to local rate limiting", zap.Error(err))
		return service.NewLocalRateLimiter(10 * appCfg.RateLimit.Window), noop, nil
	}
	closeFn := func() {
		_ = redisCache.Close()
	}
	return service.NewRateLimitService(redisCache, appCfg.RateLimit.Window, appCfg.RateLimit.RedisTimeout), closeFn, nil
}

func buildHTTPServer(appCfg *AppConfig, compileService *service.CompileService, limiter commonmw.Limiter, metrics observer.MetricsRecorder, registry *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))

	onReject := func(reason string) {
		metrics.ObserveRejected(context.Background(), reason)
	}
	compileMiddleware := []gin.HandlerFunc{
		commonmw.BodyLimitMiddleware(appCfg.Server.MaxBodyBytes),
	}
	if limiter != nil {
		compileMiddleware = append(compileMiddleware,
			commonmw.RateLimitMiddleware(limiter, "compile", appCfg.RateLimit.RateLimitPolicy, onReject))
	}

	compileController := controller.NewCompileController(compileService)
	compileController.RegisterRoutes(router.Group("/api"), compileMiddleware...)

	if registry != nil {
		router.GET(appCfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}
