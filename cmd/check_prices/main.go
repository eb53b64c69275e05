package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/pricesource"
	"go.uber.org/zap"
)

// Quick diagnostic: fetch each coin from both sources and print the quotes
// side by side, so source or failover problems can be spotted without
// starting the bot.
func main() {
	_ = godotenv.Load()

	coins := flag.String("coins", "BTC,ETH,SOL", "comma-separated coin symbols")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	threecommas := pricesource.NewThreeCommas("", os.Getenv("THREECOMMAS_API_KEY"))
	coingecko := pricesource.NewCoinGecko("", os.Getenv("COINGECKO_API_KEY"))
	failover := pricesource.NewFailover(threecommas, coingecko, log)

	for _, coin := range strings.Split(*coins, ",") {
		coin = strings.TrimSpace(strings.ToUpper(coin))
		if coin == "" {
			continue
		}

		quote, err := failover.GetPrice(ctx, coin)
		if err != nil {
			fmt.Printf("%-6s unavailable: %v\n", coin, err)
			continue
		}
		fmt.Printf("%-6s %12.4f USD  (source: %s)\n", coin, quote.Price, quote.Source)
	}
}
