package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/adapter/external"
	"github.com/storekit/commerce-core/internal/adapter/handler"
	"github.com/storekit/commerce-core/internal/adapter/storage"
	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/core/service"
	"github.com/storekit/commerce-core/internal/port"
)

type Config struct {
	HTTPPort        string
	MySQLDSN        string
	RedisAddr       string
	KafkaBrokers    string
	KafkaTopic      string
	CatalogURL      string
	MigrationsDir   string
	WorkerCount     int
	QueueSize       int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		MySQLDSN:        getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/commerce?parseTime=true"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:    getEnv("KAFKA_BROKERS", ""),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "order-events"),
		CatalogURL:      getEnv("CATALOG_URL", ""),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
		WorkerCount:     getEnvInt("WORKER_COUNT", 10),
		QueueSize:       getEnvInt("QUEUE_SIZE", 10000),
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.RunMigrations(cfg.MigrationsDir); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("ping redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb)

	// External collaborators
	var catalog port.ProductCatalog
	if cfg.CatalogURL != "" {
		catalog = external.NewCatalogClient(cfg.CatalogURL, 5*time.Second)
	} else {
		logger.Warn("no CATALOG_URL configured, serving demo catalog")
		catalog = external.NewStaticCatalog(
			domain.Product{ID: "sku-tee", Name: "Logo Tee", Price: 24.00},
			domain.Product{ID: "sku-mug", Name: "Enamel Mug", Price: 14.50},
		)
	}

	gateway := external.NewBreakerGateway(external.NewStubGateway())

	var notifier port.Notifier
	var kafkaNotifier *external.KafkaNotifier
	if cfg.KafkaBrokers != "" {
		kafkaNotifier = external.NewKafkaNotifier(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		notifier = kafkaNotifier
		logger.Info("publishing order events to kafka", zap.String("topic", cfg.KafkaTopic))
	} else {
		notifier = external.NewLogNotifier(logger)
	}

	// Core services
	changelog := service.NewChangeLog(mysqlAdapter, logger)
	ledger := service.NewLedger(mysqlAdapter, changelog, logger)
	carts := service.NewCartService(redisAdapter, ledger, logger)
	orders := service.NewOrderService(storage.NewMySQLOrders(db), carts, ledger, catalog, gateway, notifier, redisAdapter, cfg.QueueSize, logger)

	// Side-effect worker pool
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			orders.Worker(id)
		}(i)
	}
	logger.Info("started side-effect workers", zap.Int("count", cfg.WorkerCount))

	// HTTP server
	h := handler.New(carts, orders, ledger, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	logger.Info("http server stopped")

	orders.Close()
	wg.Wait()
	logger.Info("workers stopped")

	if kafkaNotifier != nil {
		kafkaNotifier.Close()
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}
