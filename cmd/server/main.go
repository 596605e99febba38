package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/timemarket-backend/internal/auth"
	"github.com/ignatzorin/timemarket-backend/internal/config"
	"github.com/ignatzorin/timemarket-backend/internal/db"
	"github.com/ignatzorin/timemarket-backend/internal/domain/repository"
	"github.com/ignatzorin/timemarket-backend/internal/domain/valueobject"
	"github.com/ignatzorin/timemarket-backend/internal/goroutine"
	"github.com/ignatzorin/timemarket-backend/internal/http/middleware"
	httpRouter "github.com/ignatzorin/timemarket-backend/internal/http/router"
	"github.com/ignatzorin/timemarket-backend/internal/infrastructure/memory"
	"github.com/ignatzorin/timemarket-backend/internal/infrastructure/persistence"
	"github.com/ignatzorin/timemarket-backend/internal/interface/http/handler"
	"github.com/ignatzorin/timemarket-backend/internal/logger"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/commission"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/payout"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/session"
	"github.com/ignatzorin/timemarket-backend/internal/usecase/wallet"
	"github.com/ignatzorin/timemarket-backend/internal/ws"
)

// storage объединяет всё, что нужно ядру от хранилища.
type storage interface {
	repository.Store
	repository.SellerDirectory
	repository.CommissionRepository
	repository.PayoutAttemptRepository
}

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.Env)

	checks := map[string]handler.Pinger{}

	// Хранилище.
	var store storage
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("main: ошибка подключения к базе: %v", err)
		}
		defer safeClose(dbConn)

		migrations, err := db.Migrations(cfg.MigrationsPath)
		if err != nil {
			log.Fatalf("main: каталог миграций недоступен: %v", err)
		}
		if err := db.RunMigrations(ctx, dbConn, migrations); err != nil {
			log.Fatalf("main: ошибка миграций: %v", err)
		}
		store = persistence.NewStore(dbConn)
		checks["postgres"] = dbConn
	default:
		logger.Log.Warn("main: используется хранилище в памяти, данные не переживут перезапуск")
		store = memory.NewStore()
	}

	// Redis необязателен: без него блокировка выплат и лимиты живут в процессе.
	var redisClient redis.UniversalClient
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("main: некорректный REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Log.WithError(err).Warn("main: ошибка закрытия redis")
			}
		}()
		redisClient = client
		checks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}

	// Ядро.
	calc, err := commission.NewCalculator(store, store, commission.Config{
		DefaultPlatformFeeBps:  valueobject.Bps(cfg.DefaultPlatformFeeBps),
		DefaultCommunityFeeBps: valueobject.Bps(cfg.DefaultCommunityFeeBps),
		MaxTotalFeeBps:         valueobject.Bps(cfg.MaxTotalFeeBps),
		CacheTTL:               cfg.CommissionCacheTTL,
	})
	if err != nil {
		log.Fatalf("main: некорректные ставки комиссий: %v", err)
	}
	defer calc.Close()

	hub := ws.NewHub()
	go hub.Run(ctx)

	ledger := wallet.NewLedger(store, store, calc)
	machine := session.NewStateMachine(store, store, ledger, calc, hub)

	var locker payout.Locker
	if redisClient != nil {
		locker = payout.NewRedisLocker(redisClient, "timemarket:lock:")
	}
	scheduler := payout.NewScheduler(store, machine, payout.ManualExecutor{}, locker, payout.Config{
		Enabled:         cfg.PayoutEnabled,
		Schedule:        cfg.PayoutSchedule,
		BatchSize:       cfg.PayoutBatchSize,
		LockTTL:         cfg.PayoutLockTTL,
		RetryBackoff:    cfg.PayoutRetryBackoff,
		MaxRetryBackoff: cfg.PayoutMaxRetryBackoff,
	})
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("main: не удалось запустить планировщик выплат: %v", err)
	}
	defer scheduler.Stop()

	// HTTP.
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
	limitStore, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		log.Fatalf("main: не удалось создать хранилище лимитов: %v", err)
	}

	engine := httpRouter.SetupRouter(cfg, tokens, limitStore, httpRouter.Handlers{
		Sessions:   handler.NewSessionHandler(machine, scheduler),
		Wallets:    handler.NewWalletHandler(ledger),
		Commission: handler.NewCommissionHandler(calc),
		Payouts:    handler.NewPayoutHandler(scheduler),
		WS:         handler.NewWSHandler(hub, tokens, cfg.AllowedOrigins),
		Health:     handler.NewHealthHandler(checks),
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.WithError(err).Error("main: ошибка остановки http сервера")
		}
	}()

	logger.Log.WithField("port", cfg.HTTPPort).WithField("storage", cfg.StorageDriver).Info("main: HTTP сервер запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.WithError(err).Error("main: сервер завершился с ошибкой")
	}

	// Дожидаемся доставки событий, отправленных до остановки.
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := goroutine.Wait(waitCtx); err != nil {
		logger.Log.WithError(err).Warn("main: не все фоновые задачи завершились")
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
