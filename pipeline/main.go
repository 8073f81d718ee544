package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/draftforge-labs/draftforge-go/internal/generate"
	"github.com/draftforge-labs/draftforge-go/internal/platform/auth"
	"github.com/draftforge-labs/draftforge-go/internal/platform/entitlement"
	"github.com/draftforge-labs/draftforge-go/internal/platform/env"
	"github.com/draftforge-labs/draftforge-go/internal/platform/httpserver"
	"github.com/draftforge-labs/draftforge-go/internal/platform/k8s"
	"github.com/draftforge-labs/draftforge-go/internal/platform/objectstore"
	"github.com/draftforge-labs/draftforge-go/internal/platform/postgres"
	repoPostgres "github.com/draftforge-labs/draftforge-go/internal/repo/postgres"
	"github.com/draftforge-labs/draftforge-go/internal/render"
	"github.com/draftforge-labs/draftforge-go/internal/service/pipeline"
)

const serviceName = "pipeline"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("PIPELINE_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PIPELINE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	entCfg, err := entitlement.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid entitlement config", "error", err)
		os.Exit(2)
	}
	tierSource, err := entitlement.NewSource(entCfg)
	if err != nil {
		logger.Error("entitlement source init failed", "error", err)
		os.Exit(2)
	}
	matrix, err := entitlement.LoadMatrix(entCfg.MatrixFile)
	if err != nil {
		logger.Error("invalid entitlement matrix", "error", err)
		os.Exit(2)
	}
	gate, err := entitlement.NewGate(tierSource, matrix, logger)
	if err != nil {
		logger.Error("entitlement gate init failed", "error", err)
		os.Exit(2)
	}

	geminiCfg := generate.GeminiConfigFromEnv()
	capability, err := generate.NewGeminiCapability(ctx, geminiCfg, logger)
	if err != nil {
		logger.Error("gemini client init failed", "error", err)
		os.Exit(2)
	}

	stepStore := repoPostgres.NewStepRecordStore(db)
	projectStore := repoPostgres.NewProjectStore(db)
	jobStore := repoPostgres.NewRenderJobStore(db)

	svcCfg, err := pipeline.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid pipeline config", "error", err)
		os.Exit(2)
	}
	service, err := pipeline.New(stepStore, projectStore, gate, capability, svcCfg, logger)
	if err != nil {
		logger.Error("pipeline service init failed", "error", err)
		os.Exit(2)
	}
	service.WithAudit(db).WithArchiver(&stageOutputArchiver{
		client: storeClient,
		bucket: storeCfg.BucketOutputs,
	})

	tracker, err := buildTracker(logger, jobStore, storeCfg)
	if err != nil {
		logger.Error("render tracker init failed", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeDev:
		logger.Warn("dev auth mode enabled; do not use in production")
		authenticator = auth.NewDevAuthenticator(authCfg)
	default:
		oidcService, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(2)
		}
		authenticator = oidcService
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: db.PingContext,
		},
		httpserver.ReadinessCheck{
			Name: "objectstore",
			Check: func(ctx context.Context) error {
				return objectstore.CheckBuckets(ctx, storeClient, storeCfg)
			},
		},
	))

	api := newPipelineAPI(logger, projectStore, service, tracker, gate, "s3://"+storeCfg.BucketOutputs)
	api.register(mux)

	authMiddleware := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}
	handler := httpserver.Wrap(logger, serviceName, authMiddleware.Wrap(mux))

	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, handler); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// buildTracker wires the configured render backend, or returns nil when
// rendering is disabled.
func buildTracker(logger *slog.Logger, jobStore *repoPostgres.RenderJobStore, storeCfg objectstore.Config) (*render.Tracker, error) {
	mode := strings.ToLower(strings.TrimSpace(env.String("RENDER_BACKEND", "disabled")))
	switch mode {
	case "", "disabled":
		logger.Info("render backend disabled")
		return nil, nil
	case "kubernetes", "k8s":
	default:
		logger.Warn("unknown render backend, rendering disabled", "backend", mode)
		return nil, nil
	}

	k8sCfg, err := k8s.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client, err := k8s.NewClient(k8sCfg)
	if err != nil {
		return nil, err
	}

	ttlSeconds, err := env.Int("RENDER_JOB_TTL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	backend, err := render.NewKubernetesBackend(client, render.KubernetesBackendConfig{
		Namespace:      env.String("RENDER_K8S_NAMESPACE", ""),
		Image:          env.String("RENDER_IMAGE", "draftforge/renderer:latest"),
		ServiceAccount: env.String("RENDER_SERVICE_ACCOUNT", ""),
		TTLSeconds:     int32(ttlSeconds),
		OutputBaseURL:  "s3://" + storeCfg.BucketMedia,
	})
	if err != nil {
		return nil, err
	}

	trackerCfg, err := render.TrackerConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return render.NewTracker(jobStore, backend, trackerCfg, logger)
}
