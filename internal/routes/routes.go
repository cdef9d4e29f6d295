package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kwanza-pay/kwanza_pay/internal/auth"
	"github.com/kwanza-pay/kwanza_pay/internal/config"
	"github.com/kwanza-pay/kwanza_pay/internal/identity"
	"github.com/kwanza-pay/kwanza_pay/internal/middleware"
	"github.com/kwanza-pay/kwanza_pay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. Store and
// Users are owned by the caller so background jobs such as the idempotency
// reaper operate on the same backends the handlers use.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	Store  wallet.Store
	Users  identity.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	// Backends fall back to in-memory implementations in dev.
	store := d.Store
	if store == nil {
		store = wallet.NewMemoryStore()
	}
	identityRepo := d.Users
	if identityRepo == nil {
		identityRepo = identity.NewMemoryRepository()
	}

	balanceCache := wallet.NewBalanceCache(d.Cache, d.Cfg.BalanceCacheTTL)
	engine := wallet.NewEngine(store, identityRepo, balanceCache, d.Cfg.IdempotencyTTL, d.Logger)

	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg)

	authHandler := auth.NewHandler(identitySvc, authSvc)
	walletHandler := wallet.NewHandler(engine)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterAuthRoutes(api, authHandler)

	// Protected routes
	jwtmw := middleware.JWTAuth(authSvc)
	protected := api.Group("", jwtmw)
	rateLimiter := middleware.MutationRateLimit(d.Cache, d.Cfg.MutationsPerMin)
	RegisterWalletRoutes(protected, walletHandler, rateLimiter)

	return nil
}
