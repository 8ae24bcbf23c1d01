// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/access-pass-service/internal/config"
	"github.com/iliyamo/access-pass-service/internal/handler"
	"github.com/iliyamo/access-pass-service/internal/middleware"
	"github.com/iliyamo/access-pass-service/internal/repository"
)

// Deps carries everything the route table needs.
type Deps struct {
	Cfg     config.Config
	Redis   *redis.Client
	Auth    *handler.AuthHandler
	Catalog *handler.CatalogHandler
	Holder  *handler.HolderHandler
	Admin   *handler.AdminHandler
}

// New builds the echo instance with all routes and middleware attached.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), d.Redis)
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), d.Redis)
	auth := middleware.JWTAuth(d.Cfg.JWTSecret)

	e.GET("/healthz", handler.Health)

	// Public surface: registration, login and the read-only catalog. The
	// catalog GETs sit behind the Redis response cache.
	pub := e.Group("/v1", rl)
	pub.POST("/auth/register", d.Auth.Register)
	pub.POST("/auth/login", d.Auth.Login)
	pub.POST("/auth/refresh", d.Auth.Refresh)
	pub.POST("/auth/refresh-access", d.Auth.RefreshAccess)
	pub.POST("/auth/logout", d.Auth.Logout)
	pub.GET("/passes", d.Catalog.ListPassTypes, cache)
	pub.GET("/passes/:id", d.Catalog.GetPassType, cache)

	// Authenticated holder surface.
	priv := e.Group("/v1", rl, auth)
	priv.GET("/auth/me", d.Auth.Me)
	priv.POST("/passes/:id/purchase", d.Holder.Purchase)
	priv.GET("/me/passes", d.Holder.MyPasses)
	priv.GET("/me/passes/:id", d.Holder.MyPass)

	// Admin surface. RequireRole is a cheap pre-filter; the ledger engine
	// re-checks the caller against the recorded authority principal.
	admin := e.Group("/v1/admin", rl, auth, middleware.RequireRole(repository.RoleAuthority))
	admin.POST("/passes", d.Admin.CreatePassType)
	admin.PUT("/passes/:id", d.Admin.UpdatePassType)
	admin.POST("/passes/:id/grant", d.Admin.Grant)
	admin.DELETE("/passes/:id/holders/:principal", d.Admin.Revoke)
	admin.GET("/treasury", d.Admin.Treasury)
	admin.POST("/treasury/withdraw", d.Admin.Withdraw)
	admin.POST("/authority/transfer", d.Admin.TransferAuthority)

	return e
}
