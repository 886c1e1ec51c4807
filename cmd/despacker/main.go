// Command despacker runs the multi-shard packer (spec §4.H) for a
// fixed set of shards, plus a periodic crash-recovery pass (§4.I)
// alongside it, matching §2's "I runs periodically alongside H".
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/datavision/des/assign"
	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/config"
	"github.com/datavision/des/lock"
	"github.com/datavision/des/objstore"
	"github.com/datavision/des/packer"
	"github.com/datavision/des/recovery"
	"github.com/datavision/des/stats"
	"github.com/datavision/des/store"
)

var (
	configPath string
	shardsFlag string
	podIndex   int
	numPods    int
)

func init() {
	flag.StringVar(&configPath, "config", "", "path to the DES YAML config file")
	flag.StringVar(&shardsFlag, "shards", "", "comma-separated explicit shard list (overrides -pod/-num-pods)")
	flag.IntVar(&podIndex, "pod", 0, "this pod's index, used with -num-pods for the static shard seed mapping (§4.E)")
	flag.IntVar(&numPods, "num-pods", 1, "total number of packer pods sharing the shard space")
}

func main() {
	flag.Parse()
	cfg, err := config.Load(configPath)
	if err != nil {
		nlog.Errorf("failed to load config: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
	nlog.SetTitle("despacker")

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
	if err := meta.Migrate(ctx); err != nil {
		nlog.Errorf("failed to migrate schema: %s", nlog.Fields("err", err))
		os.Exit(1)
	}

	holder := cos.HolderID()
	shards, err := ownedShards(cfg, podIndex, numPods)
	if err != nil {
		nlog.Errorf("failed to resolve owned shards: %s", nlog.Fields("err", err))
		os.Exit(1)
	}
	nlog.Infof("packer starting: %s", nlog.Fields("holder", holder, "shards", len(shards)))

	locks := lock.NewService(meta, holder, cfg.Packer.LockTTL)
	provider := &catalogProvider{meta: meta, objCl: objCl, holder: holder}
	st := stats.NewRegistry()

	p := packer.New(shards, packer.Config{
		WorkDir:                cfg.Packer.WorkDir,
		DestBucket:             cfg.ObjectStore.Bucket,
		DestPrefix:             cfg.ObjectStore.Prefix,
		ShardBits:              cfg.Assign.ShardBits,
		BatchSize:              cfg.Packer.BatchSize,
		LockTTL:                cfg.Packer.LockTTL,
		CheckpointEveryFiles:   cfg.Packer.CheckpointEveryFiles,
		CheckpointEverySeconds: cfg.Packer.CheckpointEverySeconds,
		BigFileThreshold:       cfg.Writer.BigFileThreshold,
		LoopSleep:              cfg.Packer.LoopSleep,
		MaxUploadRetries:       cfg.Packer.MaxUploadRetries,
	}, locks, meta, provider, objCl, holder)
	p.SetStats(st)

	if leftover, err := packer.ScanLeftoverLocalFiles(cfg.Packer.WorkDir); err != nil {
		nlog.Warningf("leftover-file scan failed: %s", nlog.Fields("err", err))
	} else if len(leftover) > 0 {
		nlog.Warningf("found leftover local container files from a prior crash: %s", nlog.Fields("count", len(leftover)))
	}

	recMgr := recovery.NewManager(meta, objCl, recovery.Config{
		Bucket:       cfg.ObjectStore.Bucket,
		ClaimTimeout: cfg.Recovery.ClaimTimeout,
		Grace:        cfg.Recovery.Grace,
	})
	recMgr.SetStats(st)
	go runRecoveryLoop(ctx, recMgr, cfg.Recovery.Interval)

	if cfg.ListenAddr != "" {
		go serveMetrics(ctx, cfg.ListenAddr, st)
	}

	p.RunLoop(ctx)
	nlog.Infoln("packer stopped")
}

// serveMetrics exposes a bare /metrics + /health surface; despacker has
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

func runRecoveryLoop(ctx context.Context, m *recovery.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := m.RunAll(ctx); err != nil {
		nlog.Errorf("startup recovery pass failed: %s", nlog.Fields("err", err))
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.RunAll(ctx); err != nil {
				nlog.Errorf("recovery pass failed: %s", nlog.Fields("err", err))
			}
		}
	}
}

// ownedShards resolves -shards if given, else the static pod-to-shard
// seed mapping of §4.E (s mod num_pods == p).
func ownedShards(cfg config.Config, pod, pods int) ([]uint32, error) {
	if shardsFlag != "" {
		var out []uint32
		for _, s := range strings.Split(shardsFlag, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				continue
			}
			out = append(out, uint32(n))
		}
		return out, nil
	}
	total, err := assign.TotalShards(cfg.Assign.ShardBits)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for s := uint32(0); s < total; s++ {
		if assign.OwnsShard(s, pod, pods) {
			out = append(out, s)
		}
	}
	return out, nil
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
