// Command desmarker runs the marker worker (spec §4.F): a single
// instance drags catalog rows from untouched to marked in rate-limited
// batches until shut down.
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

	"github.com/datavision/des/assign"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/config"
	"github.com/datavision/des/marker"
	"github.com/datavision/des/stats"
	"github.com/datavision/des/store"
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
	nlog.SetTitle("desmarker")

	ctx, cancel := context.WithCancel(context.Background())

	meta, err := store.Open(cfg.MetaDSN)
	if err != nil {
		nlog.Errorf("failed to open metadata store: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
	defer meta.Close()
	if err := meta.Migrate(ctx); err != nil {
		nlog.Errorf("failed to migrate schema: %s", nlog.Fields("err", err))
		os.Exit(1)
	}

	gen, err := assign.NewGenerator(assign.Config{
		NodeID:   cfg.Assign.NodeID,
		WrapBits: cfg.Assign.WrapBits,
		Prefix:   cfg.Assign.Prefix,
	})
	if err != nil {
		nlog.Errorf("failed to build name generator: %s", nlog.Fields("err", err))
		os.Exit(1)
	}

	w := marker.NewWorker(meta, gen, marker.Config{
		MaxAge:        cfg.Marker.MaxAge,
		BatchSize:     cfg.Marker.BatchSize,
		RatePerSecond: cfg.Marker.RatePerSecond,
		ShardBits:     cfg.Assign.ShardBits,
		MaxRetries:    cfg.Marker.MaxRetries,
		Backoff:       cfg.Marker.Backoff,
	})
	st := stats.NewRegistry()
	w.SetStats(st)

	installSignalHandler(w)

	if cfg.ListenAddr != "" {
		go serveMetrics(ctx, cfg.ListenAddr, st)
	}

	nlog.Infoln("marker starting")
	w.RunLoop(ctx, cfg.Marker.IdleSleep)
	cancel()
	nlog.Infoln("marker stopped")
}

// serveMetrics exposes a bare /metrics + /health surface; desmarker has
// no request-serving role of its own, so this is its only listener.
func serveMetrics(ctx context.Context, addr string, st *stats.Registry) {
	handler := func(c *fasthttp.RequestCtx) {
		switch string(c.Path()) {
		case "/metrics":
			body, contentType, err := st.Render()
			if err != nil {
				c.SetStatusCode(fasthttp.StatusInternalServerError)
				return
			}
			c.SetContentType(contentType)
			c.SetBody(body)
		case "/health":
			c.SetStatusCode(fasthttp.StatusOK)
			c.SetBodyString("ok")
		default:
			c.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
	server := &fasthttp.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()
	if err := server.ListenAndServe(addr); err != nil {
		nlog.Errorf("metrics listener stopped: %s", nlog.Fields("err", err))
	}
}

// installSignalHandler only sets the worker's shutdown flag, leaving the
// root context live so the in-flight batch can still commit; main
// cancels the context once RunLoop returns.
func installSignalHandler(w *marker.Worker) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		nlog.Infoln("signal received, finishing current batch and shutting down")
		w.Shutdown()
	}()
}
