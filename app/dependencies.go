package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/config"
	"github.com/memcrypt/console-gateway/handlers"
	"github.com/memcrypt/console-gateway/internal/observability"
	"github.com/memcrypt/console-gateway/keycloak"
	"github.com/memcrypt/console-gateway/middleware"
	"github.com/memcrypt/console-gateway/repositories"
	"github.com/memcrypt/console-gateway/repositories/postgres"
	"github.com/memcrypt/console-gateway/services/audit"
	"github.com/memcrypt/console-gateway/services/membership"
	"github.com/memcrypt/console-gateway/services/users"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Organizations repositories.OrganizationRepository
	Users         repositories.UserRepository
	AuditLogs     repositories.AuditRepository
	TxManager     repositories.TransactionManager

	// Identity provider
	KeySets  *keycloak.KeySetProvider
	Breaker  *keycloak.BreakerFetcher
	Verifier *keycloak.Verifier

	// Access control
	Policy          *authz.Policy
	Engine          *authz.Engine
	MembershipCache *membership.OrgCache
	Membership      *membership.Service

	// Services
	UserService  *users.Service
	AuditService *audit.AuditService
	Metrics      *observability.Metrics

	// HTTP
	AuthMiddleware   *middleware.AuthMiddleware
	AccessMiddleware *middleware.AccessMiddleware
	UserHandler      *handlers.UserHandler
	HealthHandler    *handlers.HealthHandler

	stopCleanup chan struct{}
	closed      bool
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, nil, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires everything over an already opened
// repository factory. fetcher replaces the HTTP JWKS client when non-nil.
func NewDependenciesWithFactory(
	ctx context.Context,
	cfg *config.Config,
	factory *postgres.RepositoryFactory,
	fetcher keycloak.KeySetFetcher,
	logger *zap.Logger,
) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
		Metrics:     observability.NewMetrics(),
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initIdentityProvider(cfg, fetcher)

	if err := deps.initAccessControl(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize access control: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		if deps.stopCleanup != nil {
			close(deps.stopCleanup)
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase checks connectivity and creates missing tables
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := d.RepoFactory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Organizations = repos.Organizations
	d.Users = repos.Users
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initIdentityProvider builds the token verifier. The key set is fetched on
// the first verification, not here, so startup does not depend on Keycloak.
func (d *Dependencies) initIdentityProvider(cfg *config.Config, fetcher keycloak.KeySetFetcher) {
	kc := keycloak.Config{
		URL:       cfg.Keycloak.URL,
		PublicURL: cfg.Keycloak.PublicURL,
		Realm:     cfg.Keycloak.Realm,
		ClientID:  cfg.Keycloak.ClientID,
		Leeway:    cfg.Keycloak.Leeway,
	}

	if fetcher == nil {
		fetcher = keycloak.NewHTTPKeySetFetcher(kc.JWKSURL(), &http.Client{Timeout: cfg.Keycloak.JWKSTimeout})
	}
	d.Breaker = keycloak.NewBreakerFetcher(fetcher, keycloak.BreakerConfig{
		ConsecutiveFailures: cfg.Keycloak.BreakerFailures,
		OpenTimeout:         cfg.Keycloak.BreakerOpenTimeout,
		OnStateChange:       d.Metrics.ObserveBreakerState,
	}, d.Logger)
	d.KeySets = keycloak.NewKeySetProvider(d.Breaker, cfg.Keycloak.JWKSTimeout, d.Logger)
	d.Verifier = keycloak.NewVerifier(kc, d.KeySets, d.Logger)
	d.Metrics.RegisterKeySet(d.KeySets)

	d.Logger.Info("token verifier initialized",
		zap.String("issuer", d.Verifier.Issuer()),
		zap.String("jwks_url", kc.JWKSURL()))
}

// initAccessControl loads the rule table and the membership lookups its predicates use
func (d *Dependencies) initAccessControl(cfg *config.Config) error {
	d.MembershipCache = membership.NewOrgCache(cfg.Authz.MembershipCacheSize, cfg.Authz.MembershipCacheTTL)
	d.Membership = membership.NewService(d.Users, d.MembershipCache, d.Logger)
	d.Metrics.RegisterMembershipCache(d.MembershipCache)

	policy, err := authz.LoadPolicy(cfg.Authz.RulesFile, authz.DefaultPredicates(d.Membership))
	if err != nil {
		return fmt.Errorf("failed to load access rules: %w", err)
	}
	d.Policy = policy
	d.Engine = authz.NewEngine(policy, d.Logger)

	if cfg.Authz.MembershipCleanupPeriod > 0 {
		d.stopCleanup = make(chan struct{})
		go d.MembershipCache.StartCleanupWorker(cfg.Authz.MembershipCleanupPeriod, d.stopCleanup)
	}

	source := "embedded"
	if cfg.Authz.RulesFile != "" {
		source = cfg.Authz.RulesFile
	}
	d.Logger.Info("access rules loaded",
		zap.String("source", source),
		zap.Int("rules", len(policy.Rules)))
	return nil
}

// initServices initializes the user directory and the denial audit pipeline
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.UserService = users.NewService(d.Users, d.Organizations, d.TxManager, d.Membership, d.Logger)

	if !cfg.Audit.Enabled {
		d.Logger.Warn("denial audit trail disabled")
		return nil
	}

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:   cfg.Audit.BufferSize,
		WorkerCount:  cfg.Audit.WorkerCount,
		WriteTimeout: cfg.Audit.WriteTimeout,
	})
	if err := d.AuditService.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	d.Metrics.RegisterAudit(d.AuditService)
	return nil
}

// initHTTP builds the gate middlewares and handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	var recorder middleware.DenialRecorder
	if d.AuditService != nil {
		recorder = d.AuditService
	}

	authOpts := []middleware.AuthOption{
		middleware.WithSessionStore(middleware.NewCookieSessionStore(cfg.Session.CookieName)),
		middleware.WithAuthMetrics(d.Metrics),
	}
	if recorder != nil {
		authOpts = append(authOpts, middleware.WithAuthDenialRecorder(recorder))
	}

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Verifier, d.Logger, authOpts...)
	d.AccessMiddleware = middleware.NewAccessMiddleware(d.Engine, recorder, d.Metrics, d.Logger)
	d.UserHandler = handlers.NewUserHandler(d.UserService, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB, d.Breaker, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.stopCleanup != nil {
		close(d.stopCleanup)
	}

	// Drain queued audit events before the database goes away
	if d.AuditService != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
