package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/steam-billing-api/internal/auth"
	"github.com/ksred/steam-billing-api/internal/catalog"
	"github.com/ksred/steam-billing-api/internal/config"
	"github.com/ksred/steam-billing-api/internal/database"
	"github.com/ksred/steam-billing-api/internal/orderid"
	"github.com/ksred/steam-billing-api/internal/purchase"
	"github.com/ksred/steam-billing-api/internal/reconcile"
	"github.com/ksred/steam-billing-api/internal/steam"
	"github.com/ksred/steam-billing-api/internal/transaction"
	"github.com/ksred/steam-billing-api/pkg/middleware"
	"github.com/ksred/steam-billing-api/pkg/response"
)

// App holds the wired services shared by the server and the ops CLI
type App struct {
	Config    *config.Config
	Gateway   steam.Gateway
	Catalog   *catalog.Catalog
	OrderIDs  *orderid.Generator
	Store     transaction.Store
	Processor *reconcile.Processor
	Sessions  *auth.Service
	Purchases *purchase.Service

	db *gorm.DB
}

// New builds every service from cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	products, err := catalog.Load(cfg.Products.File, cfg.Steam.Currency)
	if err != nil {
		return nil, err
	}
	a.Catalog = products

	if a.OrderIDs, err = orderid.New(cfg.Order.Shard); err != nil {
		return nil, err
	}

	a.Gateway = NewGateway(cfg)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	policy, err := reconcile.ParsePolicy(cfg.Agreement.StatusPolicy)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid AGREEMENT_STATUS_POLICY: %w", err)
	}
	a.Processor = reconcile.NewProcessor(a.Gateway, a.Store, reconcile.Options{
		Interval:     cfg.Report.Interval,
		SafetyMargin: cfg.Report.SafetyMargin,
		MaxResults:   cfg.Report.MaxResults,
		Policy:       policy,
	})

	secret := cfg.JWT.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Msg("JWT_SECRET not set, sessions will not survive a restart")
	}
	a.Sessions = auth.NewService(secret, cfg.JWT.TTL)
	if cfg.API.Key != "" && cfg.API.Secret != "" {
		a.Sessions.RegisterAPICredentials(cfg.API.Key, cfg.API.Secret)
	}

	a.Purchases = purchase.NewService(a.Gateway, a.Catalog, a.OrderIDs, a.Store, purchase.Config{
		AppID:    cfg.Steam.AppID,
		Language: cfg.Steam.ItemLocale,
	})
	return a, nil
}

// NewGateway returns the in-process sandbox when STEAM_MOCK is set and the
// partner Web API client otherwise
func NewGateway(cfg *config.Config) steam.Gateway {
	if cfg.Steam.Mock {
		log.Info().Msg("using in-process steam sandbox")
		return steam.NewSandbox()
	}
	return steam.NewClient(steam.Options{
		WebKey:  cfg.Steam.WebKey,
		AppID:   cfg.Steam.AppID,
		Sandbox: cfg.Steam.Sandbox,
		Timeout: cfg.Steam.HTTPTimeout,
	})
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Store.Backend {
	case config.BackendDynamo:
		ddb, err := database.NewDynamoClient(ctx, database.DynamoConfig{
			Region:          cfg.AWS.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("failed to create dynamodb client: %w", err)
		}
		a.Store = transaction.NewDynamoStore(ddb, cfg.DynamoDB.Table)
	case config.BackendSQL:
		db, err := database.NewDatabase(database.Config{
			Driver: cfg.DB.Driver,
			DSN:    cfg.DB.DSN,
			Debug:  cfg.Debug,
		})
		if err != nil {
			return err
		}
		a.db = db
		a.Store = transaction.NewDatabase(db)
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	log.Info().Str("backend", cfg.Store.Backend).Msg("transaction store ready")
	return nil
}

// Close releases the SQL connection pool, if any
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Router builds the HTTP API
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	if len(a.Config.CORS.Origins) > 0 {
		router.Use(middleware.CORS(a.Config.CORS.Origins))
	}

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})

	authHandlers := auth.NewGinHandlers(a.Sessions)
	purchaseHandlers := purchase.NewGinHandlers(a.Purchases, a.Sessions)
	transactionHandlers := transaction.NewGinHandlers(a.Store)
	reconcileHandlers := reconcile.NewGinHandlers(a.Processor)

	// one limiter for every group; behind the auth middleware it keys on the
	// session subject instead of the client IP
	limit := middleware.RateLimit(middleware.Limits{
		Auth:     a.Config.RateLimit.Auth,
		Purchase: a.Config.RateLimit.Purchase,
		Default:  a.Config.RateLimit.Default,
	})

	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		authRoutes.Use(limit)
		{
			authRoutes.POST("/ticket", purchaseHandlers.AuthenticateHandler())
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		player := v1.Group("")
		player.Use(middleware.PlayerAuth(a.Sessions), limit)
		{
			player.POST("/users/info", purchaseHandlers.UserInfoHandler())
			player.POST("/users/ownership", purchaseHandlers.OwnershipHandler())
			player.POST("/purchases", purchaseHandlers.InitPurchaseHandler())
			player.POST("/purchases/status", purchaseHandlers.StatusHandler())
			player.POST("/purchases/finalize", purchaseHandlers.FinalizeHandler())
			player.POST("/agreements/cancel", purchaseHandlers.CancelAgreementHandler())
			player.POST("/agreements/info", purchaseHandlers.AgreementInfoHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(a.Sessions), limit)
		{
			internal.GET("/transactions/:order_id/:trans_id", transactionHandlers.GetTransactionHandler())
			internal.POST("/reconcile", reconcileHandlers.RunHandler())
		}
	}

	return router
}
