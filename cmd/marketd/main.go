package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	zmq "github.com/pebbe/zmq4"
	"github.com/westonnelson/Alpha-sub001/internal/broker"
	"github.com/westonnelson/Alpha-sub001/internal/market"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/ops"
	"github.com/westonnelson/Alpha-sub001/internal/worker"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

const embeddedBackend = "inproc://market-backend"

func main() {
	if err := run(); err != nil {
		logs.Errorf("marketd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config")
	embedded := flag.Bool("embedded", false, "Run the market broker in this process")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopProfiler, err := obs.StartProfiler(obs.ProfilerConfig{
		ApplicationName: cfg.Profiling.ApplicationName + ".marketd",
		ServerAddress:   cfg.Profiling.ServerAddress,
	})
	if err != nil {
		return fmt.Errorf("start profiler: %w", err)
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()
	svc, err := market.NewService(market.Config{
		TTL:     cfg.Market.CacheTTL,
		Metrics: metrics,
	}, market.NewBinanceProvider(cfg.Market.BinanceURL, cfg.Market.HTTPTimeout))
	if err != nil {
		return err
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}
	defer zctx.Term()

	eg, ctx := errgroup.WithContext(ctx)

	backend := cfg.Worker.Backends["market"]
	if *embedded {
		bc := cfg.Brokers["market"]
		b, err := broker.New(broker.Config{
			Frontend: bc.Frontend,
			Backend:  embeddedBackend,
			Context:  zctx,
			Metrics:  metrics,
		})
		if err != nil {
			return err
		}
		eg.Go(func() error { return b.Run(ctx) })
		backend = embeddedBackend
	}

	pool, err := worker.NewPool(worker.Config{
		Name:       "marketd",
		Backend:    backend,
		Context:    zctx,
		Workers:    cfg.Worker.Count,
		MaxAge:     cfg.Worker.MaxAge,
		ReplyStale: cfg.Worker.ReplyStale,
		Metrics:    metrics,
	}, svc.Handlers())
	if err != nil {
		return err
	}

	eg.Go(func() error { return pool.Run(ctx) })
	eg.Go(func() error {
		svc.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		obs.Report(ctx, "marketd", metrics, cfg.Metrics.ReportInterval)
		return nil
	})
	return eg.Wait()
}
