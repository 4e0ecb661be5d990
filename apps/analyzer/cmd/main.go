package main

import (
	"context"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/aircode610/ShipSure/apps/analyzer/config"
	"github.com/aircode610/ShipSure/apps/analyzer/service/handlers"
	"github.com/aircode610/ShipSure/internal/analysis"
	"github.com/aircode610/ShipSure/internal/githubapi"
	"github.com/aircode610/ShipSure/internal/retry"
	"github.com/aircode610/ShipSure/internal/review"
	"github.com/aircode610/ShipSure/internal/sandbox"
	"github.com/aircode610/ShipSure/internal/scoring"
	"github.com/aircode610/ShipSure/internal/store"
)

func main() {
	ctx := context.Background()

	// Local development convenience; absence of a .env file is fine.
	_ = godotenv.Load()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.AnalyzerConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "pr_analyzer"
	}

	// Create service with Frame - minimal dependencies
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	// ==========================================================================
	// Platform Client & Review Waiting
	// ==========================================================================

	retryPolicy := retry.DefaultPolicy()
	if cfg.GithubRetryMaxAttempts > 0 {
		retryPolicy.MaxAttempts = cfg.GithubRetryMaxAttempts
	}
	if cfg.GithubRetryInitialDelaySeconds > 0 {
		retryPolicy.InitialDelay = time.Duration(cfg.GithubRetryInitialDelaySeconds) * time.Second
	}

	ghClient := githubapi.NewClient(ctx, githubapi.Options{
		Token:             cfg.GithubToken,
		BotLogin:          cfg.ReviewBotLogin,
		TriggerCommand:    cfg.ReviewTriggerCommand,
		RequestsPerSecond: cfg.GithubRequestsPerSecond,
		Retry:             retryPolicy,
	})

	waiter := review.NewWaiter(
		ghClient,
		time.Duration(cfg.ReviewPollIntervalSeconds)*time.Second,
	)

	// ==========================================================================
	// Sandbox Runner
	// ==========================================================================

	runner, err := sandbox.NewDockerRunner(sandbox.Config{
		ImageOverride:     cfg.SandboxImage,
		WorkspaceBasePath: cfg.WorkspaceBasePath,
		MemoryLimitMB:     cfg.SandboxMemoryLimitMB,
		CPULimit:          cfg.SandboxCPULimit,
		NetworkEnabled:    cfg.SandboxNetworkEnabled,
		OutputCapBytes:    cfg.SandboxOutputCapBytes,
	})
	if err != nil {
		log.WithError(err).Fatal("could not create sandbox runner")
	}

	// ==========================================================================
	// Risk Scorer
	// ==========================================================================

	scorer := scoring.NewScorer(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if cfg.OpenAIAPIKey == "" {
		log.Warn("no LLM API key configured, risk scoring falls back to heuristics")
	}

	// ==========================================================================
	// Job Registry & Report Store
	// ==========================================================================

	var registry analysis.Registry
	switch cfg.JobRegistryBackend {
	case "redis":
		registry = store.NewRedisJobRegistry(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			0,
		)
		log.Info("using redis job registry", "addr", cfg.RedisAddr)
	default:
		registry = analysis.NewRegistry()
	}

	var reports analysis.ReportStore
	if cfg.ResultsDatabasePath != "" {
		sqliteStore, storeErr := store.OpenSQLiteReportStore(cfg.ResultsDatabasePath)
		if storeErr != nil {
			log.WithError(storeErr).Fatal("could not open results database")
		}
		reports = sqliteStore
		log.Info("persisting reports", "path", cfg.ResultsDatabasePath)
	} else {
		reports = store.NewMemoryReportStore()
	}

	manager := analysis.NewManager(
		ghClient,
		waiter,
		runner,
		scorer,
		registry,
		reports,
		cfg.MaxConcurrentTasks,
	)

	// ==========================================================================
	// Setup HTTP Server
	// ==========================================================================

	analyzeHandler := handlers.NewAnalyzeHandler(&cfg, manager)
	repoHandler := handlers.NewRepoHandler(ghClient)

	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"analyzer"}`))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready","service":"analyzer"}`))
	})

	// Analysis endpoints
	mux.HandleFunc("POST /api/v1/analyze", analyzeHandler.Start)
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/status", analyzeHandler.Status)
	mux.HandleFunc("GET /api/v1/analyze/{jobID}/results", analyzeHandler.Results)
	mux.HandleFunc("POST /api/v1/analyze/{jobID}/cancel", analyzeHandler.Cancel)

	// Repository selection endpoints
	mux.HandleFunc("GET /api/v1/repos", repoHandler.ListRepositories)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs", repoHandler.ListPullRequests)

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
	}

	svc.Init(ctx, serviceOptions...)

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting PR risk analyzer service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
