// Command backtest replays a CSV kline file through the momentum strategy
// and the exit ladder on the simulated exchange, printing a session report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"tradekit/pkg/backtest"
	"tradekit/pkg/strategy"
)

var (
	klineFile = flag.String("klines", "", "CSV kline file (ts,open,high,low,close[,volume] or ts,close)")
	symbol    = flag.String("symbol", "BTCUSDT", "symbol label for the session")
	balance   = flag.Float64("balance", 10000, "initial balance in USDT")
	lookback  = flag.Int("lookback", 12, "momentum lookback in bars")
	threshold = flag.Float64("threshold", 1.0, "momentum entry threshold in percent")
	output    = flag.String("o", "", "optional JSON report output path")
)

func main() {
	flag.Parse()
	if *klineFile == "" {
		log.Fatal("-klines is required")
	}

	feeder, err := backtest.NewCSVKlineFeederFromFile(*klineFile)
	if err != nil {
		log.Fatalf("failed to load klines: %v", err)
	}

	eng := &backtest.Engine{
		Feeder:         feeder,
		Strategy:       &strategy.Momentum{Lookback: *lookback, ThresholdPercent: *threshold},
		Symbol:         *symbol,
		InitialBalance: *balance,
		OutputPath:     *output,
	}
	res, err := eng.Run(context.Background())
	if err != nil {
		log.Fatalf("backtest failed: %v", err)
	}

	fmt.Printf("steps:        %d\n", res.Steps)
	fmt.Printf("trades:       %d (%d wins, %.1f%% win rate)\n", res.Trades, res.Wins, res.WinRate*100)
	fmt.Printf("realized pnl: %.2f USDT\n", res.RealizedPnL)
	fmt.Printf("end balance:  %.2f USDT\n", res.EndBalance)
	fmt.Printf("max drawdown: %.2f%%\n", res.MaxDDPct)
	fmt.Printf("sharpe:       %.2f\n", res.Sharpe)
	for _, d := range res.Details {
		fmt.Printf("  #%d %s entry=%.4f exit=%.4f pnl=%.2f (%s)\n",
			d.Step, d.Side, d.Entry, d.Exit, d.Realized, d.Reason)
	}
}
