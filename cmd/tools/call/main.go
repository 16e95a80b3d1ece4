package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/westonnelson/Alpha-sub001/internal/gateway"
	"github.com/westonnelson/Alpha-sub001/internal/ops"
	"github.com/westonnelson/Alpha-sub001/internal/schema"
	"github.com/yanun0323/logs"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("call: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to YAML config")
	serviceName := flag.String("service", "", "Service to call, e.g. quote or database_status")
	data := flag.String("data", "{}", "Request body as a JSON object")
	timeout := flag.Duration("timeout", 0, "Per attempt timeout (default from config)")
	retries := flag.Int("retries", -1, "Retries after the first attempt (default from config)")
	flag.Parse()

	service, ok := schema.ParseService(*serviceName)
	if !ok {
		return fmt.Errorf("unknown service %q", *serviceName)
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if *timeout <= 0 {
		*timeout = cfg.Gateway.Timeout
	}
	if *retries < 0 {
		*retries = cfg.Gateway.Retries
	}

	body := map[string]any{}
	if err := sonic.UnmarshalString(*data, &body); err != nil {
		return fmt.Errorf("parse -data: %w", err)
	}

	endpoints, err := cfg.EndpointTable()
	if err != nil {
		return err
	}
	g, err := gateway.New(gateway.Config{Identity: cfg.Gateway.Identity, Endpoints: endpoints})
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := gateway.Fetch[any](ctx, g, service, body, *timeout, *retries)
	if err != nil {
		return err
	}
	if !res.OK {
		if res.Diagnostic == "" {
			return errors.New("no result")
		}
		return errors.New(res.Diagnostic)
	}

	out, err := sonic.ConfigStd.MarshalIndent(res.Value, "", "  ")
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Println(string(out))
	logs.Infof("call: %s answered in %s", service, time.Since(start).Round(time.Millisecond))
	return nil
}
