// Package main запускает HTTP-сервер движка продаж.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baawa1/baawa-inventory-sub000/internal/config"
	"github.com/baawa1/baawa-inventory-sub000/internal/handler"
	"github.com/baawa1/baawa-inventory-sub000/internal/idempotency"
	"github.com/baawa1/baawa-inventory-sub000/internal/metrics"
	"github.com/baawa1/baawa-inventory-sub000/internal/middleware"
	"github.com/baawa1/baawa-inventory-sub000/internal/model"
	"github.com/baawa1/baawa-inventory-sub000/internal/money"
	"github.com/baawa1/baawa-inventory-sub000/internal/outbox"
	"github.com/baawa1/baawa-inventory-sub000/internal/repository"
	"github.com/baawa1/baawa-inventory-sub000/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var (
		repo       service.Repository
		eventStore outbox.Store
	)
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo, eventStore = pg, pg
	} else {
		mem := repository.NewMemoryRepository()
		seedDemoCatalog(mem)
		repo, eventStore = mem, mem
		sugar.Infow("running with in-memory storage, sales will not survive a restart")
	}
	defer repo.Close()

	var cache idempotency.Cache
	if cfg.RedisAddr != "" {
		redisCache := idempotency.NewRedisCache(cfg.RedisAddr, cfg.IdempotencyWindow)
		defer redisCache.Close()
		cache = redisCache
	}

	svc := service.NewService(repo, cache, service.Options{
		Currency:          cfg.Currency,
		PriceTolerance:    money.Money(cfg.PriceTolerance),
		IdempotencyWindow: cfg.IdempotencyWindow,
	})
	defer svc.Close()

	m := metrics.New("possale")
	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware, m)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Публикация событий продаж в Kafka, если настроены брокеры
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		publisher := outbox.NewKafkaPublisher(brokers)
		defer publisher.Close()

		relay := outbox.NewRelay(eventStore, publisher, logger)
		g.Go(func() error {
			relay.Run(ctx)
			return nil
		})
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting possale server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

// seedDemoCatalog наполняет каталог для запуска без PostgreSQL.
func seedDemoCatalog(repo *repository.MemoryRepository) {
	repo.AddProduct(model.Product{ID: 1, SKU: "RICE-5KG", Name: "Rice 5kg", Price: 450000, Active: true}, 50)
	repo.AddProduct(model.Product{ID: 2, SKU: "BEANS-2KG", Name: "Beans 2kg", Price: 210000, Active: true}, 40)
	repo.AddProduct(model.Product{ID: 3, SKU: "OIL-1L", Name: "Palm oil 1L", Price: 180000, Active: true}, 60)
}
