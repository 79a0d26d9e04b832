package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/adapter/storage"
	"github.com/storekit/commerce-core/internal/core/domain"
	"github.com/storekit/commerce-core/internal/core/service"
)

// Seeds stock for a product. Goes through the ledger so the restock lands
// in the change log like any other adjustment.
func main() {
	var (
		productID = flag.String("product", "", "product id to restock")
		quantity  = flag.Int("quantity", 0, "units to add")
		threshold = flag.Int("threshold", 5, "low stock alert threshold")
		actor     = flag.String("actor", "seed-cli", "who performs the restock")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *productID == "" || *quantity <= 0 {
		logger.Error("usage: seed -product <id> -quantity <n> [-threshold <n>]")
		os.Exit(1)
	}

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/commerce?parseTime=true"
	}
	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.Fatal("open mysql", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("ping mysql", zap.Error(err))
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.RunMigrations(migrationsDir); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	changelog := service.NewChangeLog(adapter, logger)
	ledger := service.NewLedger(adapter, changelog, logger)

	rec, err := ledger.Adjust(ctx, *productID, *quantity, domain.ReasonRestock, "seed", *actor)
	if err != nil {
		logger.Fatal("restock", zap.Error(err))
	}
	if err := ledger.SetLowStockThreshold(ctx, *productID, *threshold); err != nil {
		logger.Fatal("set threshold", zap.Error(err))
	}

	logger.Info("stock seeded",
		zap.String("product_id", rec.ProductID),
		zap.Int("quantity", rec.Quantity),
		zap.Int("available", rec.Available()),
		zap.Int("threshold", *threshold))
}
