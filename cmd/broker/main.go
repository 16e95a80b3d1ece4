package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/westonnelson/Alpha-sub001/internal/broker"
	"github.com/westonnelson/Alpha-sub001/internal/chaos"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/ops"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("broker: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config")
	family := flag.String("family", "", "Only run the broker of this service family (default: all)")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopProfiler, err := obs.StartProfiler(obs.ProfilerConfig{
		ApplicationName: cfg.Profiling.ApplicationName + ".broker",
		ServerAddress:   cfg.Profiling.ServerAddress,
	})
	if err != nil {
		return fmt.Errorf("start profiler: %w", err)
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()
	eg, ctx := errgroup.WithContext(ctx)
	started := 0
	for name, bc := range cfg.Brokers {
		if *family != "" && name != *family {
			continue
		}

		var engine *chaos.Engine
		if cc := bc.ChaosConfig(); cc.Enabled() {
			if engine, err = chaos.NewEngine(cc); err != nil {
				return fmt.Errorf("broker %s: %w", name, err)
			}
			logs.Warnf("broker %s: fault injection enabled (drop %.2f, duplicate %.2f, delay up to %s)",
				name, cc.DropRate, cc.DuplicateRate, cc.MaxDelay)
		}

		b, err := broker.New(broker.Config{
			Frontend:     bc.Frontend,
			Backend:      bc.Backend,
			Chaos:        engine,
			Metrics:      metrics,
			PollInterval: bc.PollInterval,
		})
		if err != nil {
			return fmt.Errorf("broker %s: %w", name, err)
		}
		eg.Go(func() error {
			return b.Run(ctx)
		})
		started++
	}
	if started == 0 {
		return errors.New("no broker configured for family " + *family)
	}

	eg.Go(func() error {
		obs.Report(ctx, "broker", metrics, cfg.Metrics.ReportInterval)
		return nil
	})
	return eg.Wait()
}
