package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"retailradar/internal/browser"
	"retailradar/internal/client/analytics"
	"retailradar/internal/client/vision"
	"retailradar/internal/config"
	cronrunner "retailradar/internal/cron"
	"retailradar/internal/db"
	"retailradar/internal/extractor"
	"retailradar/internal/handler"
	"retailradar/internal/logger"
	gormrepository "retailradar/internal/repository/gorm"
	"retailradar/internal/search"
	"retailradar/internal/service"
)

func main() {
	cfgPath := os.Getenv("RR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("RR_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	session := browser.NewChromeSession(cfg.Browser)
	defer session.Close()

	oracleHTTP := &http.Client{Timeout: cfg.Oracle.Timeout}
	oracleClient := vision.NewClient(oracleHTTP, cfg.Oracle.BaseURL, os.Getenv(cfg.Oracle.APIKeyEnv), cfg.Oracle.Model, cfg.Oracle.MaxTokens)
	analyticsHTTP := &http.Client{Timeout: cfg.Analytics.Timeout}
	analyticsClient := analytics.NewClient(analyticsHTTP, cfg.Analytics.BaseURL, os.Getenv(cfg.Analytics.APIKeyEnv), cfg.Analytics.Domain)

	store := gormrepository.New(dbConn.Gorm)
	searcher := &search.MarketplaceSearch{
		Session:    session,
		BaseURL:    cfg.Scrape.SearchBaseURL,
		Timeout:    cfg.Browser.SelectorTimeout,
		MaxResults: cfg.Scrape.MaxCandidates,
		Logger:     logger,
	}
	pipeline := &service.ReconcilePipeline{
		Store:   store,
		Session: session,
		Search:  searcher,
		Oracle:  oracleClient,
		Extractors: map[string]extractor.Extractor{
			"walgreens": extractor.Walgreens{},
		},
		Scrape:  cfg.Scrape,
		Browser: cfg.Browser,
		Logger:  logger,
	}
	enrichSvc := &service.EnrichmentService{
		Repo:    store,
		History: analyticsClient,
		Config:  cfg.Enrich,
		Logger:  logger,
	}
	reportSvc := &service.ReportService{Repo: store, Config: cfg.Report}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	catalogHandler := &handler.CatalogHandler{
		Repo:     store,
		Pipeline: pipeline,
		Enrich:   enrichSvc,
		Report:   reportSvc,
		Logger:   logger,
	}
	catalogHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Scrape.Enabled {
		_, err = cronRunner.Add(cfg.Cron.Scrape, func(ctx context.Context) {
			results, err := pipeline.Run(ctx)
			if err != nil {
				logger.Warn("cron scrape failed", zap.Error(err))
				return
			}
			for _, result := range results {
				logger.Info("cron scrape ok",
					zap.String("source", result.Source),
					zap.Int("listings", result.Listings),
					zap.Int("new_products", result.NewProducts),
					zap.Int("price_changes", result.PriceChanges),
					zap.Int("items", result.Items),
					zap.Int("matches", result.Matches),
					zap.Int("skipped", result.Skipped),
				)
			}
		})
		if err != nil {
			logger.Warn("cron register scrape failed", zap.Error(err))
		}
	}
	if cfg.Cron.Enabled {
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.Enrich.Enabled {
		go enrichSvc.Run(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
