//go:build ignore

// Quick manual check of the kline feed: connects to a Binance-style combined
// stream and prints closed bars until interrupted.
//
//	go run scripts/watch_feed.go -url wss://fstream.binance.com/stream -symbols BTCUSDT,ETHUSDT
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradekit/pkg/feed"
)

var (
	url      = flag.String("url", "wss://fstream.binance.com/stream", "websocket stream URL")
	symbols  = flag.String("symbols", "BTCUSDT", "comma-separated symbols")
	interval = flag.String("interval", "1m", "kline interval")
)

func main() {
	flag.Parse()

	client, err := feed.NewClient(*url, strings.Split(*symbols, ","), *interval)
	if err != nil {
		log.Fatalf("feed init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() { _ = client.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			client.Close()
			return
		case err := <-client.Errors():
			log.Printf("feed error: %v", err)
		case bar := <-client.Bars():
			if !bar.Closed {
				continue
			}
			fmt.Printf("%s %s close=%.4f high=%.4f low=%.4f vol=%.2f\n",
				bar.Symbol, bar.Interval, bar.Candle.Close, bar.Candle.High, bar.Candle.Low, bar.Candle.Volume)
		}
	}
}
