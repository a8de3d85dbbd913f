// Command report prints a performance summary for an account's trade
// history stored in Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/paper-ledger/internal/config"
	"github.com/your-org/paper-ledger/internal/datastore"
	"github.com/your-org/paper-ledger/internal/history"
	"github.com/your-org/paper-ledger/internal/ledger"
	"github.com/your-org/paper-ledger/internal/metrics"
	"github.com/your-org/paper-ledger/internal/trading"
	"github.com/your-org/paper-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the configuration file")
	accountID := flag.String("account", "", "account to report on (defaults to the configured account)")
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
		log.Fatal("report requires a configured database")
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
	aggregator := metrics.NewAggregator(store)

	m, err := aggregator.ForAccount(ctx, *accountID)
	if err != nil {
		log.Fatal("failed to compute metrics", zap.Error(err))
	}

	repo := ledger.NewPostgresRepository(pool)
	account, err := repo.Get(ctx, *accountID)
	if err != nil {
		log.Fatal("failed to load account", zap.Error(err))
	}

	printReport(os.Stdout, *accountID, account, m)
}

func printReport(out io.Writer, accountID string, account ledger.Snapshot, m trading.Metrics) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "Account\t%s\n", accountID)
	fmt.Fprintf(w, "Balance\t%s\n", account.Balance)
	fmt.Fprintf(w, "Buying power\t%s\n", account.BuyingPower)
	fmt.Fprintf(w, "Deployed capital\t%s\n", account.DeployedCapital)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Total trades\t%d\n", m.TotalTrades)
	fmt.Fprintf(w, "Winning trades\t%d\n", m.WinningTrades)
	fmt.Fprintf(w, "Losing trades\t%d\n", m.LosingTrades)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate)
	fmt.Fprintf(w, "Profit factor\t%s\n", formatProfitFactor(m.ProfitFactor))
	fmt.Fprintf(w, "Gross profit\t%s\n", m.GrossProfit)
	fmt.Fprintf(w, "Gross loss\t%s\n", m.GrossLoss)
	fmt.Fprintf(w, "Average win\t%s\n", m.AvgWin)
	fmt.Fprintf(w, "Average loss\t%s\n", m.AvgLoss)
	fmt.Fprintf(w, "Largest win\t%s\n", m.LargestWin)
	fmt.Fprintf(w, "Largest loss\t%s\n", m.LargestLoss)
	fmt.Fprintf(w, "Avg holding period\t%s\n", m.AvgHoldingPeriod.Round(time.Second))

	for _, reason := range []trading.CloseReason{trading.CloseManual, trading.CloseStopLoss, trading.CloseTarget} {
		if n := m.ClosesByReason[reason]; n > 0 {
			fmt.Fprintf(w, "Closed %s\t%d\n", reason, n)
		}
	}
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "Inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
