package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"github.com/iliyamo/access-pass-service/internal/config"
	"github.com/iliyamo/access-pass-service/internal/database"
	"github.com/iliyamo/access-pass-service/internal/handler"
	"github.com/iliyamo/access-pass-service/internal/ledger"
	"github.com/iliyamo/access-pass-service/internal/payout"
	"github.com/iliyamo/access-pass-service/internal/queue"
	"github.com/iliyamo/access-pass-service/internal/repository"
	"github.com/iliyamo/access-pass-service/internal/router"
	event_publisher "github.com/iliyamo/access-pass-service/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Hydrate the ledger engine from MySQL; on first boot the configured
	// principal is seeded as authority.
	engine := ledger.New(repository.NewLedgerStore(db), payout.New(cfg.PayoutURL))
	if err := engine.Load(context.Background(), cfg.AuthorityPrincipal); err != nil {
		log.Fatalf("ledger: %v", err)
	}
	log.Printf("ledger loaded: %d pass types, authority=%s, balance=%d cents",
		len(engine.ListPassTypes()), engine.Authority(), engine.Balance())

	accounts := repository.NewAccountRepo(db)
	tokens := repository.NewTokenRepo(db)
	events := event_publisher.New("")

	// Background audit trail; keeps retrying if the broker is down.
	go func() {
		if err := queue.StartEventConsumer(); err != nil {
			log.Printf("event consumer stopped: %v", err)
		}
	}()

	rdb := config.NewRedisClient() // nil disables caching and rate limiting

	e := router.New(router.Deps{
		Cfg:     cfg,
		Redis:   rdb,
		Auth:    handler.NewAuthHandler(cfg, accounts, tokens),
		Catalog: handler.NewCatalogHandler(engine),
		Holder:  handler.NewHolderHandler(engine, events),
		Admin:   handler.NewAdminHandler(engine, events, accounts),
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
