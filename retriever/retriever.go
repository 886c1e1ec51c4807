// Package retriever implements the stateless HTTP retrieval service
// (spec §4.J): GET/HEAD /files/{name} resolves a name to a container
// key, opens a reader (reusing a cached index where possible), and
// range-reads the payload. Built on valyala/fasthttp, the teacher's
// choice for the hot read path (§5: "this is the hot read path the
// spec optimizes for").
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package retriever

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/datavision/des/assign"
	"github.com/datavision/des/cache"
	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/health"
	"github.com/datavision/des/objstore"
	"github.com/datavision/des/reader"
	"github.com/datavision/des/stats"
)

// Config carries the §6.6 knobs the retriever needs to build a
// container key from a name (§4.J's "internal algorithm").
type Config struct {
	Bucket        string
	Prefix        string
	ShardBits     uint8
	FormatVersion uint8
}

// Service is the retriever's stateless handler set: one per process,
// shared across every request.
type Service struct {
	cfg     Config
	objCl   *objstore.Client
	idxCache cache.Cache
	stats   *stats.Registry
	health  *health.Checker
}

func New(cfg Config, objCl *objstore.Client, idxCache cache.Cache, st *stats.Registry, hc *health.Checker) *Service {
	if idxCache == nil {
		idxCache = cache.Null{}
	}
	return &Service{cfg: cfg, objCl: objCl, idxCache: idxCache, stats: st, health: hc}
}

// containerKey builds <prefix>/<YYYY-MM-DD>/shard_<shard>.des (§4.J,
// §6.2), where shard is zero-padded lowercase hex with
// width=ceil(shard_bits/4) (§6.2, Open Question resolved in
// DESIGN.md: source uses ceil(shard_bits/4), so do we).
func (s *Service) containerKey(name string) (key string, shard uint32, err error) {
	_, dayPrefix, shard, err := s.resolve(name)
	if err != nil {
		return "", 0, err
	}
	width := (int(s.cfg.ShardBits) + 3) / 4
	key = fmt.Sprintf("%s/shard_%0*x.des", dayPrefix, width, shard)
	return key, shard, nil
}

// resolve parses name's embedded day and derives both its container
// key's day-qualified prefix and its shard id in one place, so the
// container key and the external _bigFiles prefix (§6.2) can never
// drift apart.
func (s *Service) resolve(name string) (day, dayPrefix string, shard uint32, err error) {
	day, err = assign.ParseDay(name)
	if err != nil {
		return "", "", 0, err
	}
	dashed := day[0:4] + "-" + day[4:6] + "-" + day[6:8]
	shard, err = assign.ShardID(name, s.cfg.ShardBits)
	if err != nil {
		return "", "", 0, err
	}
	dayPrefix = fmt.Sprintf("%s/%s", s.cfg.Prefix, dashed)
	return day, dayPrefix, shard, nil
}

func (s *Service) openReader(ctx context.Context, name, key string) (*reader.Reader, error) {
	_, dayPrefix, _, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	rr, etag, err := reader.OpenS3(ctx, s.objCl, s.cfg.Bucket, key)
	if err != nil {
		return nil, err
	}
	cacheKey := reader.S3CacheKey(s.cfg.Bucket, key, etag, s.cfg.FormatVersion)
	ext := reader.S3ExternalFetcher{Cl: s.objCl, Bucket: s.cfg.Bucket, Prefix: dayPrefix}
	return reader.Open(ctx, rr, cacheKey, s.idxCache, ext)
}

// Handler returns the fasthttp.RequestHandler mounting every route in
// §6.3's retriever HTTP surface.
func (s *Service) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			s.handleHealth(ctx)
		case path == "/health/ready":
			s.handleReady(ctx)
		case path == "/metrics":
			s.handleMetrics(ctx)
		case len(path) > len("/files/") && path[:len("/files/")] == "/files/":
			name := path[len("/files/"):]
			switch method {
			case fasthttp.MethodGet:
				s.handleGetFile(ctx, name)
			case fasthttp.MethodHead:
				s.handleHeadFile(ctx, name)
			default:
				ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
			}
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}

		if s.stats != nil {
			route := routeLabel(path)
			s.stats.RetrieverRequests.WithLabelValues(route, strconv.Itoa(ctx.Response.StatusCode())).Inc()
			s.stats.RetrieverLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

func routeLabel(path string) string {
	if len(path) > len("/files/") && path[:len("/files/")] == "/files/" {
		return "/files/{name}"
	}
	return path
}

func (s *Service) handleGetFile(ctx *fasthttp.RequestCtx, name string) {
	key, shard, err := s.containerKey(name)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	rd, err := s.openReader(ctx, name, key)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	data, err := rd.GetFile(ctx, name)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	isExternal, _, _, _ := rd.EntryInfo(ctx, name)
	setDiagHeaders(ctx, key, shard, len(data), isExternal)
	ctx.Response.Header.SetContentType("application/octet-stream")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(data)
}

func (s *Service) handleHeadFile(ctx *fasthttp.RequestCtx, name string) {
	key, shard, err := s.containerKey(name)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	rd, err := s.openReader(ctx, name, key)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	isExternal, size, ok, err := rd.EntryInfo(ctx, name)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	setDiagHeaders(ctx, key, shard, int(size), isExternal)
	ctx.SetStatusCode(fasthttp.StatusOK)
}

func setDiagHeaders(ctx *fasthttp.RequestCtx, containerKey string, shard uint32, size int, external bool) {
	ctx.Response.Header.Set("X-DES-Container", containerKey)
	ctx.Response.Header.Set("X-DES-Shard-Id", strconv.FormatUint(uint64(shard), 10))
	ctx.Response.Header.Set("X-DES-Size-Bytes", strconv.Itoa(size))
	ctx.Response.Header.Set("X-DES-Is-External", strconv.FormatBool(external))
}

func writeErr(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case cos.IsErrNotFound(err):
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	default:
		nlog.Errorf("retriever request failed: %s", nlog.Fields("err", err))
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	}
}

func (s *Service) handleMetrics(ctx *fasthttp.RequestCtx) {
	if s.stats == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	body, contentType, err := s.stats.Render()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType(contentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func (s *Service) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleReady(ctx *fasthttp.RequestCtx) {
	if s.health == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
		return
	}
	report := s.health.Check(ctx)
	code := fasthttp.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = fasthttp.StatusServiceUnavailable
	}
	writeJSON(ctx, code, report)
}

func writeJSON(ctx *fasthttp.RequestCtx, code int, v any) {
	body, err := jsoniter.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(code)
	ctx.SetBody(body)
}
