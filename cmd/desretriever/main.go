// Command desretriever runs the stateless retrieval HTTP service
// (spec §4.J).
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

	"github.com/datavision/des/cache"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/config"
	"github.com/datavision/des/health"
	"github.com/datavision/des/objstore"
	"github.com/datavision/des/retriever"
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
	nlog.SetTitle("desretriever")

	ctx, cancel := context.WithCancel(context.Background())
	installSignalHandler(cancel)

	objCl, err := objstore.New(ctx, objstore.Config{
		Region: cfg.ObjectStore.Region, Endpoint: cfg.ObjectStore.Endpoint,
		AccessKeyID: cfg.ObjectStore.AccessKeyID, SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		ForcePathStyle: cfg.ObjectStore.ForcePathStyle,
	})
	if err != nil {
		nlog.Errorf("failed to build object-store client: %s", nlog.Fields("err", err))
		os.Exit(1)
	}

	meta, err := store.Open(cfg.MetaDSN)
	if err != nil {
		nlog.Errorf("failed to open metadata store: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
	defer meta.Close()

	idxCache := buildCache(cfg.Cache)
	st := stats.NewRegistry()
	hc := health.NewChecker(meta, objCl, meta, health.Config{Bucket: cfg.ObjectStore.Bucket, ProbeKey: cfg.ObjectStore.Prefix + "/.probe"})

	svc := retriever.New(retriever.Config{
		Bucket:        cfg.ObjectStore.Bucket,
		Prefix:        cfg.ObjectStore.Prefix,
		ShardBits:     cfg.Assign.ShardBits,
		FormatVersion: 1,
	}, objCl, idxCache, st, hc)

	server := &fasthttp.Server{Handler: svc.Handler(), ReadTimeout: 30e9, WriteTimeout: 30e9}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown()
	}()

	nlog.Infof("retriever listening: %s", nlog.Fields("addr", cfg.ListenAddr))
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		nlog.Errorf("retriever server stopped: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
}

func buildCache(cfg config.Cache) cache.Cache {
	switch cfg.Backend {
	case "remote":
		kv, err := cache.OpenBuntKV(cfg.BuntDB)
		if err != nil {
			nlog.Errorf("failed to open buntdb cache, falling back to memory: %s", nlog.Fields("err", err))
			break
		}
		return cache.NewRemote(kv, cfg.TTL)
	case "null":
		return cache.Null{}
	}
	return cache.NewMemory(cfg.MaxSize, cfg.TTL)
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
