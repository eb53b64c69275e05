package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/vitos/crypto_rebalancer/internal/domain"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
)

// Seeds a bot row into the database so the engine has something to run.
func main() {
	dbPath := flag.String("db", "rebalancer.db", "sqlite database path")
	name := flag.String("name", "rebalancer-1", "bot name")
	coins := flag.String("coins", "BTC,ETH,SOL", "comma-separated coin list, order is the tie-break order")
	initial := flag.String("initial", "", "initial coin (defaults to first of -coins)")
	threshold := flag.Float64("threshold", 5.0, "deviation threshold percent")
	interval := flag.Int("interval", 15, "check interval in minutes")
	commission := flag.Float64("commission", 0.005, "commission rate per swap leg")
	protection := flag.Float64("protection", 10.0, "drawdown tolerance percent")
	account := flag.String("account", "", "exchange account id")
	flag.Parse()

	var coinList []string
	for _, c := range strings.Split(*coins, ",") {
		if c = strings.TrimSpace(strings.ToUpper(c)); c != "" {
			coinList = append(coinList, c)
		}
	}
	if len(coinList) < 2 {
		fmt.Println("Need at least two coins")
		os.Exit(1)
	}
	initialCoin := *initial
	if initialCoin == "" {
		initialCoin = coinList[0]
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	bot := &domain.Bot{
		Name:           *name,
		Enabled:        true,
		Coins:          coinList,
		InitialCoin:    initialCoin,
		Threshold:      *threshold,
		CheckInterval:  *interval,
		CommissionRate: *commission,
		Stablecoin:     "USDT",
		ProtectionPct:  *protection,
		AccountID:      *account,
		PriceSource:    "3commas",
		FallbackSource: "coingecko",
	}
	if err := store.CreateBot(context.Background(), bot); err != nil {
		fmt.Printf("Failed to create bot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created bot %d (%s) holding %s\n", bot.ID, bot.Name, initialCoin)
}
