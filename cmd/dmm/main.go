// Command dmm is the Data Movement Manager daemon entry point.
// Grounded on aistore's cmd/authn (a small standalone daemon binary: flag
// parsing, nlog setup, signal handling, orderly shutdown), adapted to use
// github.com/urfave/cli (adopted from aistore's own cmd/cli) for its
// richer flag/usage handling.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/jkguiang/dmm/cmn/nlog"
	"github.com/jkguiang/dmm/config"
	"github.com/jkguiang/dmm/coordinator"
	"github.com/jkguiang/dmm/metricsdb"
	"github.com/jkguiang/dmm/request"
	"github.com/jkguiang/dmm/sdn"
	"github.com/jkguiang/dmm/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "dmm"
	app.Usage = "Data Movement Manager: priority-weighted SDN circuit allocator"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "n_workers, n", Value: 4, Usage: "orchestrator worker pool size"},
		cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "path to the DMM YAML config"},
		cli.StringFlag{Name: "loglevel", Value: "info", Usage: "log level: debug|info"},
		cli.StringFlag{Name: "logfile", Value: "", Usage: "log directory (defaults to working directory)"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dmm:", err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	nlog.SetLogDir(cctx.String("logfile"))
	nlog.SetVerbose(cctx.String("loglevel") == "debug")
	nlog.SetTitle("dmm")
	defer nlog.Flush(true)

	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}

	// The real SENSE client library is an out-of-scope external dependency
	// (spec.md §1); dmm ships sdn.NewClient for deployments that front it
	// with an HTTP shim, and falls back to the nonsense test double
	// otherwise, matching the original project's own dev/test fixture.
	sdnAdapter := sdn.Adapter(sdn.NewNonsense())
	if cfg.Sense.ControllerURL != "" {
		sdnAdapter = sdn.NewClient(cfg.Sense.ControllerURL)
	}

	var metrics request.Metrics
	if cfg.DMM.Monitoring {
		m, err := metricsdb.NewClient(cfg.Prometheus.Host, cfg.Prometheus.Port)
		if err != nil {
			return err
		}
		metrics = m
	}

	var persist *store.Store
	if cfg.SQLDB.Host != "" {
		persist, err = store.Open(cfg.SQLDB.Host)
		if err != nil {
			return err
		}
	}
	var cache *store.LocalCache
	if cfg.Persistence.CachePath != "" {
		cache, err = store.OpenLocalCache(cfg.Persistence.CachePath)
		if err != nil {
			return err
		}
	}

	coord, err := coordinator.New(cfg, sdnAdapter, metrics, persist, cache, cctx.Int("n_workers"))
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("dmm: received shutdown signal")
		coord.Shutdown()
		os.Exit(0)
	}()

	nlog.Infof("dmm: starting with %d workers", cctx.Int("n_workers"))
	return coord.Serve(cfg.DMM.Host, cfg.DMM.Port)
}
