// Command desrouter runs the stateless fan-out proxy in front of the
// retriever fleet (spec §4.K).
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/valyala/fasthttp"

	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/config"
	"github.com/datavision/des/router"
	"github.com/datavision/des/stats"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config", "", "path to the DES YAML config file")
}

func main() {
	flag.Parse()
	cfg, err := config.Load(configPath)
	if err != nil {
		nlog.Errorf("failed to load config: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
	nlog.SetTitle("desrouter")

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandler(cancel)

	st := stats.NewRegistry()
	strategy := router.Strategy(cfg.Router.Strategy)
	if strategy == "" {
		strategy = router.StrategyHashByte
	}
	rt, err := router.New(router.Config{
		Endpoints:      cfg.Router.Endpoints,
		Weights:        cfg.Router.Weights,
		Strategy:       strategy,
		CBThreshold:    cfg.Router.CBThreshold,
		CBTimeout:      cfg.Router.CBTimeout,
		RequestTimeout: cfg.Router.RequestTimeout,
		MaxRetries:     cfg.Router.MaxRetries,
	}, st)
	if err != nil {
		nlog.Errorf("failed to build router: %s", nlog.Fields("err", err))
		os.Exit(1)
	}

	server := &fasthttp.Server{Handler: rt.Handler(), ReadTimeout: cfg.Router.RequestTimeout, WriteTimeout: cfg.Router.RequestTimeout}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()

	nlog.Infof("router listening: %s", nlog.Fields("addr", cfg.ListenAddr, "endpoints", len(cfg.Router.Endpoints)))
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		nlog.Errorf("router server stopped: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
}

func installSignalHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Infoln("signal received, shutting down gracefully")
		cancel()
	}()
}
