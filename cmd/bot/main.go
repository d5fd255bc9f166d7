package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"tradekit/internal/cli"
	"tradekit/internal/config"
	"tradekit/internal/svc"
	"tradekit/pkg/feed"
)

var configFile = flag.String("f", "etc/bot.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	defer logx.Close()
	cli.LogConfigSummary(cfg)

	if cfg.Feed.WSURL == "" {
		log.Fatal("feed.wsurl is required to run the bot")
	}

	svcCtx := svc.NewServiceContext(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := feed.NewClient(cfg.Feed.WSURL, cfg.Feed.Symbols, cfg.Feed.Interval)
	if err != nil {
		log.Fatalf("failed to init kline feed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = client.Run(ctx)
	}()

	logx.Infof("bot started: %v @ %s", cfg.Feed.Symbols, cfg.Feed.Interval)
	newBot(svcCtx).run(ctx, client)

	client.Close()
	wg.Wait()

	if err := svcCtx.SaveState(); err != nil {
		logx.Errorf("failed to persist engine state on shutdown: %v", err)
	}
	logx.Info("bot stopped")
}
