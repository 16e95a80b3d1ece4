package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	zmq "github.com/pebbe/zmq4"
	"github.com/westonnelson/Alpha-sub001/internal/account"
	"github.com/westonnelson/Alpha-sub001/internal/bus"
	"github.com/westonnelson/Alpha-sub001/internal/feed"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/internal/ops"
	"github.com/westonnelson/Alpha-sub001/internal/worker"
	"github.com/westonnelson/Alpha-sub001/pkg/conn"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"
)

const batchQueueSize = 64

func main() {
	if err := run(); err != nil {
		logs.Errorf("databased: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopProfiler, err := obs.StartProfiler(obs.ProfilerConfig{
		ApplicationName: cfg.Profiling.ApplicationName + ".databased",
		ServerAddress:   cfg.Profiling.ServerAddress,
	})
	if err != nil {
		return fmt.Errorf("start profiler: %w", err)
	}
	defer stopProfiler()

	source, closer, err := openSource(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	policy, err := cfg.Database.Policy()
	if err != nil {
		return err
	}
	store := mirror.NewStore(account.Collections(policy)...)
	svc, err := account.NewService(store)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	queue := bus.NewQueue[mirror.Batch](batchQueueSize)
	tailers := make([]*feed.Tailer, 0, len(store.Names()))
	for _, name := range store.Names() {
		t, err := feed.NewTailer(feed.TailerConfig{
			Collection:   name,
			PageSize:     cfg.Database.PageSize,
			PollInterval: cfg.Database.PollInterval,
			Metrics:      metrics,
		}, source, queue)
		if err != nil {
			return err
		}
		tailers = append(tailers, t)
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}
	defer zctx.Term()

	pool, err := worker.NewPool(worker.Config{
		Name:       "databased",
		Backend:    cfg.Worker.Backends["database"],
		Context:    zctx,
		Workers:    cfg.Worker.Count,
		MaxAge:     cfg.Worker.MaxAge,
		ReplyStale: cfg.Worker.ReplyStale,
		Metrics:    metrics,
	}, svc.Handlers())
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		store.Consume(ctx, queue)
		return nil
	})
	for _, t := range tailers {
		eg.Go(func() error { return t.Run(ctx) })
	}
	eg.Go(func() error { return pool.Run(ctx) })
	eg.Go(func() error {
		obs.Report(ctx, "databased", metrics, cfg.Metrics.ReportInterval)
		return nil
	})
	return eg.Wait()
}

func openSource(ctx context.Context, cfg ops.DatabaseConfig) (feed.Source, io.Closer, error) {
	switch cfg.Driver {
	case "postgres":
		client, err := conn.OpenPostgres(ctx, cfg.PostgresOption())
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		source, err := feed.NewPostgresSource(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logs.Infof("databased: mirroring postgres %s@%s", cfg.Postgres.Database, cfg.Postgres.Host)
		return source, client, nil
	default:
		db, err := conn.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := feed.EnsureSQLiteSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		source, err := feed.NewSQLiteSource(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logs.Infof("databased: mirroring sqlite %s", cfg.SQLite.Path)
		return source, db, nil
	}
}
