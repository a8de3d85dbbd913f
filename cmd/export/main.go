// Command export dumps an account's trade history from Postgres as CSV
// on stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/config"
	"github.com/your-org/paper-ledger/internal/csvwriter"
	"github.com/your-org/paper-ledger/internal/datastore"
	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/trading"
	"github.com/your-org/paper-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	accountID := flag.String("account", "", "account to export (defaults to the configured account)")
	symbol := flag.String("symbol", "", "restrict the export to one symbol")
	limit := flag.Int("limit", 0, "maximum number of trades, most recent first (0 = all)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if !cfg.Database.Enabled() {
		log.Fatal("export requires a configured database")
	}
	if *accountID == "" {
		*accountID = cfg.Account.ID
	}

	ctx := context.Background()
	pool, err := datastore.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatal("unable to connect to database", zap.Error(err))
	}
	defer pool.Close()

	store := history.NewPostgresStore(pool)

	var trades []trading.ClosedTrade
	if *limit > 0 {
		trades, err = store.GetRecent(ctx, *accountID, *limit, *symbol)
	} else {
		trades, err = store.All(ctx, *accountID)
	}
	if err != nil {
		log.Fatal("failed to fetch trade history", zap.Error(err))
	}

	writer := csvwriter.NewTradeWriter(os.Stdout)
	var written int
	for _, t := range trades {
		if *symbol != "" && t.Symbol != *symbol {
			continue
		}
		if err := writer.Write(t); err != nil {
			log.Fatal("failed to write trade", zap.String("tradeID", t.TradeID), zap.Error(err))
		}
		written++
	}
	if err := writer.Flush(); err != nil {
		log.Fatal("failed to flush CSV output", zap.Error(err))
	}

	log.Info("export complete",
		zap.String("accountID", *accountID),
		zap.Int("trades", written),
	)
}
