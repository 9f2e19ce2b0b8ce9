// Package di assembles the runtime dependency graph: configuration in,
// a wired router plus lifecycle hooks out.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/souqline/api/internal/handlers"
	"github.com/souqline/api/internal/payments"
	"github.com/souqline/api/internal/platform/auth"
	"github.com/souqline/api/internal/platform/cache"
	"github.com/souqline/api/internal/platform/config"
	pfirestore "github.com/souqline/api/internal/platform/firestore"
	"github.com/souqline/api/internal/platform/idempotency"
	"github.com/souqline/api/internal/platform/jobs"
	"github.com/souqline/api/internal/platform/observability"
	"github.com/souqline/api/internal/platform/requestctx"
	"github.com/souqline/api/internal/repositories"
	fsrepo "github.com/souqline/api/internal/repositories/firestore"
	"github.com/souqline/api/internal/services"
)

// internalSecretName is the HMAC secret key internal catalog callers sign with.
const internalSecretName = "internal"

// Version is stamped at build time via -ldflags.
var Version = "dev"

func buildVersion() string { return Version }

// Services bundles the service-layer contracts the handlers rely upon.
type Services struct {
	Identity   services.IdentityService
	Cart       services.CartService
	Promotions services.PromotionService
	Checkout   services.CheckoutService
	Orders     services.OrderService
	Catalog    services.CatalogService
}

// Container wires repositories, services, the payment gateway, and HTTP
// infrastructure for runtime use.
type Container struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry repositories.Registry
	Services Services
	Gateway  *payments.Manager

	issuer           *auth.TokenIssuer
	sessions         *auth.SessionResolver
	hmac             *auth.HMACValidator
	idempotency      func(http.Handler) http.Handler
	idempotencyStore *idempotency.FirestoreStore
	probes           map[string]handlers.ReadinessProbe

	provider    *pfirestore.Provider
	redisClient redis.UniversalClient
	pubsub      *pubsub.Client
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		probes: make(map[string]handlers.ReadinessProbe),
	}

	c.provider = pfirestore.NewProvider(cfg.Firestore)
	registry, err := fsrepo.NewRegistry(c.provider)
	if err != nil {
		return nil, fmt.Errorf("build repository registry: %w", err)
	}
	c.Registry = registry
	c.probes["firestore"] = func(ctx context.Context) error {
		_, err := c.provider.Client(ctx)
		return err
	}

	variantReader, err := c.buildVariantReader(registry)
	if err != nil {
		return nil, err
	}

	events, err := c.buildEventPublisher(ctx)
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(cfg, serviceLogger(logger))
	if err != nil {
		return nil, err
	}
	c.Gateway = gateway

	svc, err := buildServices(registry, variantReader, gateway, events, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	if err := c.buildAuth(); err != nil {
		return nil, err
	}

	if err := c.buildIdempotency(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Router assembles the HTTP router over the container's services.
func (c *Container) Router() chi.Router {
	cfg := c.Config

	authHandlers := handlers.NewAuthHandlers(c.Services.Identity, c.issuer, c.sessions,
		handlers.WithCredentialRateLimit(cfg.RateLimits.DefaultPerMinute, time.Minute, time.Now))
	cartHandlers := handlers.NewCartHandlers(c.Services.Cart)
	promoHandlers := handlers.NewPromotionHandlers(c.Services.Promotions, c.Services.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(c.Services.Checkout)
	orderHandlers := handlers.NewOrderHandlers(c.Services.Orders)
	publicHandlers := handlers.NewPublicHandlers(c.Services.Orders)
	adminHandlers := handlers.NewAdminHandlers(c.Services.Orders, c.Services.Promotions)
	catalogHandlers := handlers.NewInternalCatalogHandlers(c.Services.Catalog)
	webhookHandlers := handlers.NewWebhookHandlers(handlers.WebhookHandlersConfig{
		Gateway:    c.Gateway,
		Orders:     c.Services.Orders,
		SuccessURL: cfg.Checkout.SuccessURL,
		FailureURL: cfg.Checkout.FailureURL,
		Logger:     c.Logger,
	})

	health := handlers.NewHealthHandlers(healthOptions(cfg, c.probes)...)

	sessionMW := c.sessions.ResolveAccount()
	adminMW := []func(http.Handler) http.Handler{
		sessionMW,
		c.sessions.RequireRegistered(),
		c.sessions.RequireRole(auth.RoleStaff, auth.RoleAdmin),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.Logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RecoveryMiddleware(c.Logger),
			observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithPromotionRoutes(promoHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(catalogHandlers.Routes),
		handlers.WithSessionMiddlewares(sessionMW),
		handlers.WithAdminMiddlewares(adminMW...),
	}

	checkoutMW := []func(http.Handler) http.Handler{sessionMW}
	if c.idempotency != nil {
		checkoutMW = append(checkoutMW, c.idempotency)
	}
	opts = append(opts, handlers.WithCheckoutMiddlewares(checkoutMW...))

	if c.hmac != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(c.hmac.RequireHMAC(internalSecretName)))
	}

	return handlers.NewRouter(opts...)
}

// Close releases repository clients, the cache connection, and the event broker.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis client: %w", err))
		}
	}
	if c.Registry != nil {
		if err := c.Registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

// buildVariantReader returns the variant read path: a Redis read-through cache
// when configured, the repository otherwise.
func (c *Container) buildVariantReader(registry repositories.Registry) (services.VariantFinder, error) {
	if c.Config.Redis.Addr == "" {
		return registry.Variants(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	variantCache, err := cache.NewVariantCache(cache.VariantCacheConfig{
		Client: client,
		Source: registry.Variants(),
		TTL:    c.Config.Redis.VariantCacheTTL,
		Logger: c.Logger,
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("build variant cache: %w", err)
	}
	c.redisClient = client
	c.probes["redis"] = func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
	return variantCache, nil
}

func (c *Container) buildEventPublisher(ctx context.Context) (services.EventPublisher, error) {
	cfg := c.Config.Events
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, nil
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubEventPublisher(client.Topic(cfg.Topic))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("build event publisher: %w", err)
	}
	c.pubsub = client
	return publisher, nil
}

func (c *Container) buildAuth() error {
	cfg := c.Config

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Secret:     cfg.Auth.TokenSecret,
		GuestTTL:   cfg.Auth.GuestTokenTTL,
		SessionTTL: cfg.Auth.SessionTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("build token issuer: %w", err)
	}
	c.issuer = issuer

	identities := c.Services.Identity
	guests := auth.GuestCreatorFunc(func(ctx context.Context) (string, error) {
		account, err := identities.CreateGuest(ctx)
		if err != nil {
			return "", err
		}
		return account.ID, nil
	})
	c.sessions = auth.NewSessionResolver(issuer, guests,
		auth.WithSessionCookie(auth.SessionCookieName, cfg.Auth.CookieDomain, cfg.Auth.CookieSecure),
		auth.WithSessionLogger(observability.NewPrintfAdapter(c.Logger)),
	)

	if len(cfg.Security.HMAC.Secrets) > 0 {
		secrets := cfg.Security.HMAC.Secrets
		provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
			secret, ok := secrets[name]
			if !ok || secret == "" {
				return "", fmt.Errorf("hmac secret %q not configured", name)
			}
			return secret, nil
		})
		c.hmac = auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(),
			auth.WithHMACLogger(observability.NewPrintfAdapter(c.Logger)),
			auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
			auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
			auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
		)
	}

	return nil
}

func (c *Container) buildIdempotency(ctx context.Context) error {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("build idempotency store: %w", err)
	}
	store := idempotency.NewFirestoreStore(client)
	c.idempotencyStore = store
	c.idempotency = idempotency.Middleware(store,
		idempotency.WithHeader(c.Config.Idempotency.Header),
		idempotency.WithTTL(c.Config.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(c.Logger)),
	)
	return nil
}

// RunIdempotencyCleanup periodically removes expired idempotency records.
// It blocks until ctx is cancelled; run it on its own goroutine.
func (c *Container) RunIdempotencyCleanup(ctx context.Context) {
	interval := c.Config.Idempotency.CleanupInterval
	if c.idempotencyStore == nil || interval <= 0 {
		return
	}
	logger := c.Logger.Named("idempotency")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := c.idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), c.Config.Idempotency.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildGateway(cfg config.Config, logger func(context.Context, string, map[string]any)) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)

	if cfg.Paymob.APIKey != "" {
		paymob, err := payments.NewPaymobProvider(payments.PaymobProviderConfig{
			BaseURL:             cfg.Paymob.BaseURL,
			APIKey:              cfg.Paymob.APIKey,
			HMACSecret:          cfg.Paymob.HMACSecret,
			IntegrationID:       cfg.Paymob.IntegrationID,
			WalletIntegrationID: cfg.Paymob.WalletIntegrationID,
			IframeID:            cfg.Paymob.IframeID,
			AuthTTL:             cfg.Paymob.AuthTTL,
			RequestTimeout:      cfg.Paymob.RequestTimeout,
			Logger:              logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build paymob provider: %w", err)
		}
		providers[payments.ProviderPaymob] = paymob
	}

	if cfg.Stripe.APIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:        cfg.Stripe.APIKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripe
	}

	manager, err := payments.NewManager(providers)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func buildServices(registry repositories.Registry, variantReader services.VariantFinder, gateway *payments.Manager, events services.EventPublisher, cfg config.Config, logger *zap.Logger) (Services, error) {
	var svc Services
	slog := serviceLogger(logger)

	identity, err := services.NewIdentityService(services.IdentityServiceDeps{
		Accounts: registry.Accounts(),
		Carts:    registry.Carts(),
		Orders:   registry.Orders(),
		Clock:    time.Now,
		Logger:   slog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build identity service: %w", err)
	}
	svc.Identity = identity

	cart, err := services.NewCartService(services.CartServiceDeps{
		Carts:           registry.Carts(),
		Variants:        variantReader,
		Accounts:        registry.Accounts(),
		Clock:           time.Now,
		Logger:          slog,
		GuestCartTTL:    cfg.Checkout.GuestCartTTL,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cart

	promotions, err := services.NewPromotionService(services.PromotionServiceDeps{
		Repository: registry.Promotions(),
		Clock:      time.Now,
		Logger:     slog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotions

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:           registry.Carts(),
		Variants:        registry.Variants(),
		Orders:          registry.Orders(),
		Sessions:        registry.CheckoutSessions(),
		Counters:        registry.Counters(),
		Promotions:      promotions,
		Gateway:         gateway,
		Events:          events,
		Clock:           time.Now,
		Logger:          slog,
		DefaultCurrency: cfg.Checkout.DefaultCurrency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: registry.Orders(),
		Carts:  registry.Carts(),
		Events: events,
		Clock:  time.Now,
		Logger: slog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	var invalidator services.VariantCacheInvalidator
	if variantCache, ok := variantReader.(*cache.VariantCache); ok {
		invalidator = variantCache
	}
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Variants: registry.Variants(),
		Reader:   variantReader,
		Cache:    invalidator,
		Clock:    time.Now,
		Logger:   slog,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	return svc, nil
}

func healthOptions(cfg config.Config, probes map[string]handlers.ReadinessProbe) []handlers.HealthOption {
	opts := []handlers.HealthOption{
		handlers.WithHealthVersion(buildVersion(), cfg.Security.Environment),
	}
	for name, probe := range probes {
		opts = append(opts, handlers.WithReadinessProbe(name, probe))
	}
	return opts
}

// serviceLogger adapts zap to the event-map logging contract the services use.
func serviceLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		l := observability.FromContext(ctx)
		if l == nil || l == requestctx.NoopLogger() {
			l = logger
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zapFields = append(zapFields, zap.Any(k, v))
		}
		l.Info(event, zapFields...)
	}
}
