package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/blobstore"
	"github.com/techcorp/docbroker/internal/delivery"
	"github.com/techcorp/docbroker/internal/email"
	"github.com/techcorp/docbroker/internal/janitor"
	"github.com/techcorp/docbroker/internal/onboard"
	"github.com/techcorp/docbroker/internal/registry/handler"
	"github.com/techcorp/docbroker/internal/registry/repository"
	"github.com/techcorp/docbroker/internal/registry/service"
	"github.com/techcorp/docbroker/internal/resourceauth"
	"github.com/techcorp/docbroker/internal/shorturl"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("portal exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("portal")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("portal.port", 8080)
	viper.SetDefault("portal.base_url", "")
	viper.SetDefault("portal.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("portal.rate_limit_rps", 20)
	viper.SetDefault("agents.tenant.url", "http://localhost:8000/cloud-agent")
	viper.SetDefault("agents.tenant.api_key", "")
	viper.SetDefault("agents.enterprise.url", "http://localhost:8100/cloud-agent")
	viper.SetDefault("agents.enterprise.api_key", "")
	viper.SetDefault("agents.enterprise.admin_key", "")
	viper.SetDefault("agents.issuing_did", "")
	viper.SetDefault("agents.agent_name", "TechCorp Document Broker")
	viper.SetDefault("blobstore.url", "")
	viper.SetDefault("blobstore.api_key", "")
	viper.SetDefault("email.smtp_host", "")
	viper.SetDefault("email.smtp_port", 587)
	viper.SetDefault("email.smtp_username", "")
	viper.SetDefault("email.smtp_password", "")
	viper.SetDefault("email.from_address", "portal@techcorp.com")
	viper.SetDefault("security.admin_api_key", "")
	viper.SetDefault("security.registry_signature_key", "")
	viper.SetDefault("security.section_secret", "")
	viper.SetDefault("security.accepted_issuers", []string{})
	viper.SetDefault("data.dir", "data")
	viper.SetDefault("sessions.ttl_hours", 4)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	signatureKey := viper.GetString("security.registry_signature_key")
	if signatureKey == "" {
		return errors.New("security.registry_signature_key is required: the document registry file is HMAC-signed with it")
	}
	sectionSecret := viper.GetString("security.section_secret")
	if sectionSecret == "" {
		return errors.New("security.section_secret is required: all section keys derive from it")
	}

	httpPort := viper.GetInt("portal.port")
	baseURL := viper.GetString("portal.base_url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	dataDir := viper.GetString("data.dir")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// ── Audit ledger ─────────────────────────────────────────────────────────
	ledger, err := audit.NewFileLedger(filepath.Join(dataDir, "audit.jsonl"), logger)
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}

	startCtx := context.Background()
	if err := ledger.Verify(startCtx); err != nil {
		return fmt.Errorf("audit chain integrity check FAILED: %w", err)
	}
	n, _ := ledger.Len(startCtx)
	auditRoot, _ := ledger.Root(startCtx)
	logger.Info("audit chain verified", zap.Int("entries", n), zap.String("root", auditRoot))

	// ── Cloud Agent clients ──────────────────────────────────────────────────
	tenant := agent.New(
		viper.GetString("agents.tenant.url"),
		viper.GetString("agents.tenant.api_key"),
	)
	enterprise := agent.New(
		viper.GetString("agents.enterprise.url"),
		viper.GetString("agents.enterprise.api_key"),
		agent.WithAdminKey(viper.GetString("agents.enterprise.admin_key")),
	)

	// ── Document registry ────────────────────────────────────────────────────
	store := repository.NewSignedStore(filepath.Join(dataDir, "document-registry.json"), []byte(signatureKey))
	hidden, err := repository.NewHiddenConnections(filepath.Join(dataDir, "soft-deleted-connections.json"))
	if err != nil {
		return fmt.Errorf("load soft-deleted connections: %w", err)
	}
	docs, err := service.NewDocumentService(store, hidden, []byte(sectionSecret), ledger, logger)
	if err != nil {
		return fmt.Errorf("load document registry: %w", err)
	}

	blobURL := viper.GetString("blobstore.url")
	if blobURL != "" {
		docs.SetBlobStore(blobstore.New(blobURL, viper.GetString("blobstore.api_key")))
		logger.Info("blob store configured", zap.String("url", blobURL))
	} else {
		logger.Warn("no blob store configured — uploads and staged downloads are disabled")
	}

	// ── Authentication ───────────────────────────────────────────────────────
	directory, err := auth.NewDirectory(filepath.Join(dataDir, "employee-connection-mappings.json"))
	if err != nil {
		return fmt.Errorf("load employee directory: %w", err)
	}
	sessions := auth.NewSessions(time.Duration(viper.GetInt("sessions.ttl_hours")) * time.Hour)
	pending := auth.NewPendingAuths()
	issuers := auth.NewIssuerSet(viper.GetStringSlice("security.accepted_issuers"))
	if len(issuers) == 0 {
		logger.Warn("security.accepted_issuers is empty — every credential issuer will be rejected")
	}
	login := auth.NewLoginService(tenant, directory, pending, sessions, issuers, ledger, logger)

	// ── Delivery pipeline ────────────────────────────────────────────────────
	ephemerals := delivery.NewEphemerals()
	pickups := delivery.NewPickups()
	prepared := delivery.NewPreparedDownloads()
	deliverySvc := delivery.NewService(docs, ephemerals, pickups, prepared, baseURL, ledger, logger)

	issuingDID := viper.GetString("agents.issuing_did")
	if issuingDID != "" {
		deliverySvc.SetCredentialIssuer(tenant, issuingDID)
	} else {
		logger.Warn("agents.issuing_did not set — DocumentCopy credential offers are disabled")
	}

	// ── Resource authorization ───────────────────────────────────────────────
	policy := resourceauth.DefaultPolicy()
	authorizations := resourceauth.NewAuthorizations()
	authz := resourceauth.NewService(policy, directory, tenant, authorizations, issuers, ledger, logger)

	// ── Onboarding ───────────────────────────────────────────────────────────
	var mailer email.Sender
	smtpHost := viper.GetString("email.smtp_host")
	if smtpHost != "" {
		mailer = email.NewSMTPSender(
			smtpHost,
			viper.GetInt("email.smtp_port"),
			viper.GetString("email.smtp_username"),
			viper.GetString("email.smtp_password"),
			viper.GetString("email.from_address"),
		)
		logger.Info("SMTP notifications configured", zap.String("host", smtpHost))
	} else {
		mailer = email.NewNoopSender(logger)
	}

	provisioner := onboard.NewProvisioner(
		tenant,
		enterprise,
		issuingDID,
		viper.GetString("agents.agent_name"),
		directory,
		ledger,
		logger,
	)
	provisioner.SetNotifier(mailer)

	// ── Short URLs ───────────────────────────────────────────────────────────
	shortURLs := shorturl.NewStore()

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS
	corsOrigins := viper.GetStringSlice("portal.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Session-Token", "X-Session-ID", "X-Admin-Api-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit: 1 MB everywhere except document upload.
	router.Use(func(c *gin.Context) {
		limit := int64(1 << 20)
		if c.FullPath() == "/classified-documents/upload" {
			limit = service.MaxUploadBytes + 1<<20
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	})

	// Per-IP rate limiting
	rps := viper.GetInt("portal.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// Health and metrics (public, no auth)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "documents": docs.Count()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	// Employee-facing surface
	root := router.Group("")
	docsHandler := handler.NewDocumentsHandler(docs, sessions, logger)
	handler.NewAuthHandler(login, sessions, logger).Register(root)
	docsHandler.Register(root)
	handler.NewConnectionsHandler(tenant, docs, sessions, logger).Register(root)
	handler.NewDeliveryHandler(deliverySvc, sessions, logger).Register(root)
	handler.NewResourcesHandler(authz, policy, logger).Register(root)
	handler.NewShortURLHandler(shortURLs, sessions, baseURL, logger).Register(root)

	// Admin surface
	adminKey := viper.GetString("security.admin_api_key")
	if adminKey == "" {
		logger.Warn("security.admin_api_key not set — admin endpoints are disabled")
	}
	docsHandler.RegisterAdmin(router.Group("", auth.RequireAdminKey(adminKey)))

	admin := router.Group("/admin", auth.RequireAdminKey(adminKey))
	handler.NewOnboardHandler(provisioner, directory, logger).Register(admin)
	handler.NewAuditHandler(ledger, logger).Register(admin)

	// ── Background loops ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// stop fans the shutdown signal out to every background loop.
	stop := make(chan os.Signal)

	jan := janitor.New(janitor.DefaultInterval, logger)
	jan.SetMetricsRecord(handler.RecordSweep)
	jan.Add("sessions", time.Hour, sessions.SweepExpired)
	jan.Add("pending_auths", time.Minute, pending.SweepExpired)
	jan.Add("authorizations", time.Minute, authorizations.SweepExpired)
	jan.Add("prepared_downloads", time.Minute, prepared.SweepExpired)
	jan.Add("pickups", time.Hour, pickups.SweepExpired)
	jan.Add("ephemeral_dids", time.Hour, ephemerals.SweepExpired)
	jan.Add("short_urls", 10*time.Minute, shortURLs.SweepExpired)
	go jan.Start(stop)

	probe := agent.NewProbe(
		[]agent.ProbeTarget{
			{Name: "tenant", Client: tenant},
			{Name: "enterprise", Client: enterprise},
		},
		agent.ProbeConfig{},
		logger,
	)
	probe.SetMetricsRecord(handler.SetAgentUp)
	go probe.Start(stop)

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for label, count := range docs.LevelCounts() {
					handler.SetDocumentsGauge(label, float64(count))
				}
			case <-stop:
				return
			}
		}
	}()

	// ── HTTP server ──────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("portal HTTP listening", zap.Int("port", httpPort), zap.String("base_url", baseURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down portal...")
	close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("portal stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
