package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unalkalkan/pronounce/internal/api"
	"github.com/unalkalkan/pronounce/internal/cache"
	"github.com/unalkalkan/pronounce/internal/chunk"
	"github.com/unalkalkan/pronounce/internal/config"
	"github.com/unalkalkan/pronounce/internal/dict"
	"github.com/unalkalkan/pronounce/internal/health"
	"github.com/unalkalkan/pronounce/internal/jobstore"
	"github.com/unalkalkan/pronounce/internal/merge"
	"github.com/unalkalkan/pronounce/internal/observe"
	"github.com/unalkalkan/pronounce/internal/provider"
	"github.com/unalkalkan/pronounce/internal/resolve"
	"github.com/unalkalkan/pronounce/internal/storage"
	"github.com/unalkalkan/pronounce/internal/worker"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/dev.example.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting pronounce server v%s (role=%s)", version, cfg.Jobs.Role)
	log.Printf("Configuration loaded from: %s", *configPath)

	storageAdapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer storageAdapter.Close()
	log.Printf("Storage adapter initialized: %s", cfg.Storage.Adapter)

	providerRegistry := provider.NewRegistry()
	if err := providerRegistry.InitializeProviders(cfg.Providers); err != nil {
		log.Fatalf("Failed to initialize providers: %v", err)
	}
	defer providerRegistry.Close()
	log.Printf("Synthesizers registered: %v", providerRegistry.ListSynthesizers())

	phonemizer, err := providerRegistry.GetPhonemizer(cfg.Providers.Phonemizer.Name)
	if err != nil {
		log.Fatalf("Failed to look up phonemizer %q: %v", cfg.Providers.Phonemizer.Name, err)
	}

	dictStore, err := dict.NewStore(cfg.Resolver)
	if err != nil {
		log.Fatalf("Failed to load dictionary packs: %v", err)
	}
	if cfg.Resolver.AutolearnFlushSecs > 0 {
		dictStore.StartAutolearnFlusher(time.Duration(cfg.Resolver.AutolearnFlushSecs) * time.Second)
	}
	defer dictStore.Stop()
	log.Printf("Dictionary packs loaded: %v", dictStore.Versions())

	resolver := resolve.New(dictStore, phonemizer)

	cacheStore := cache.NewStore(storageAdapter, cfg.Cache.MaxMB)

	var jobStore jobstore.Store
	if cfg.Redis.URL != "" {
		redisStore, err := jobstore.NewRedisStore(jobstore.RedisConfig{
			URL:                 cfg.Redis.URL,
			MaxActiveJobs:       cfg.Jobs.MaxActiveJobs,
			SegmentMaxRetries:   cfg.Jobs.SegmentMaxRetries,
			SegmentStaleSeconds: cfg.Jobs.SegmentStaleSeconds,
			JobsTTLSeconds:      cfg.Jobs.JobsTTLSeconds,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis job store: %v", err)
		}
		jobStore = redisStore
		log.Printf("Job store: redis (%s)", cfg.Redis.URL)
	} else {
		memStore := jobstore.NewMemoryStore(jobstore.MemoryConfig{
			MaxActiveJobs:        cfg.Jobs.MaxActiveJobs,
			SegmentMaxRetries:    cfg.Jobs.SegmentMaxRetries,
			SegmentStaleSeconds:  cfg.Jobs.SegmentStaleSeconds,
			JobsTTLSeconds:       cfg.Jobs.JobsTTLSeconds,
			MergeLockWaitSeconds: cfg.Jobs.MergeLockWaitSeconds,
		})
		memStore.StartTTLSweeper(time.Minute)
		jobStore = memStore
		log.Printf("Job store: in-process")
	}
	defer jobStore.Close()

	codec, err := providerRegistry.GetCodec("opus")
	if err != nil {
		log.Fatalf("Failed to look up codec: %v", err)
	}
	merger := merge.New(cacheStore, storageAdapter, jobStore, codec)

	metrics := observe.NewMetrics()

	healthHandler := health.NewHandler(version)
	healthHandler.Register("storage", func(ctx context.Context) (health.Status, error) {
		if _, err := storageAdapter.Exists(ctx, ".healthcheck"); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})
	healthHandler.Register("jobstore", func(ctx context.Context) (health.Status, error) {
		if _, err := jobStore.StatusSnapshot(ctx); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})
	healthHandler.Register("codec", func(ctx context.Context) (health.Status, error) {
		if _, err := providerRegistry.GetCodec("opus"); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", healthHandler.LivenessHandler())
	mux.HandleFunc("/health/ready", healthHandler.ReadinessHandler())
	mux.HandleFunc("/health", healthHandler.HealthHandler())
	mux.Handle("/v1/metrics", metrics.Handler())

	runsAPI := cfg.Jobs.Role == "all" || cfg.Jobs.Role == "api"
	runsWorker := cfg.Jobs.Role == "all" || cfg.Jobs.Role == "worker"

	workersOnline := 0
	if runsWorker {
		workersOnline = cfg.Jobs.JobWorkers
	}
	mux.HandleFunc("/v1/admin/status", observe.StatusHandler(jobStore, workersOnline))

	if runsAPI {
		apiHandler := api.NewHandler(api.Config{
			JobsConfig:      cfg.Jobs,
			ChunkConfig:     chunk.Config{TargetChars: cfg.Chunk.TargetChars, MaxChars: cfg.Chunk.MaxChars},
			ModelAllowlist:  cfg.Providers.ModelAllowlist,
			CompilerVersion: cfg.Resolver.CompilerVersion,
			PhonemeMode:     cfg.Resolver.PhonemeMode,
			Dict:            dictStore,
			Resolver:        resolver,
			Cache:           cacheStore,
			Jobs:            jobStore,
			Merger:          merger,
			Registry:        providerRegistry,
			Metrics:         metrics,
			CodecName:       "opus",
		})
		apiHandler.RegisterRoutes(mux)
		log.Printf("API routes registered")
	}

	ctx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if runsWorker {
		pool, err := worker.NewPool(jobStore, providerRegistry, resolver, cacheStore, "opus", worker.Config{
			JobWorkers:      cfg.Jobs.JobWorkers,
			MaxConcurrent:   cfg.Jobs.MaxConcurrentSegments,
			CompilerVersion: cfg.Resolver.CompilerVersion,
			PhonemeMode:     cfg.Resolver.PhonemeMode,
		})
		if err != nil {
			log.Fatalf("Failed to create worker pool: %v", err)
		}
		go func() {
			if err := pool.Run(ctx); err != nil {
				log.Printf("Worker pool stopped: %v", err)
			}
		}()
		log.Printf("Worker pool started: %d job workers", cfg.Jobs.JobWorkers)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
