// Package router implements the stateless fan-out proxy in front of N
// retrievers (spec §4.K): hash-byte routing by default, a per-endpoint
// circuit breaker, and a healthy-endpoint fallback with bounded
// exponential-backoff retries. Built on valyala/fasthttp, matching
// retriever's hot-path choice.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/datavision/des/cmn/cos"
	"github.com/datavision/des/cmn/nlog"
	"github.com/datavision/des/stats"
)

// Strategy selects how a name maps to a primary endpoint (§4.K).
type Strategy string

const (
	StrategyHashByte   Strategy = "hash_byte"
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
)

// Config carries the §6.6 circuit-breaker knobs plus the endpoint set
// and routing strategy.
type Config struct {
	Endpoints      []string
	Weights        []int // parallel to Endpoints, only used by StrategyWeighted
	Strategy       Strategy
	CBThreshold    int
	CBTimeout      time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
}

type endpoint struct {
	addr   string
	weight int

	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
}

func (e *endpoint) healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCount == 0
}

func (e *endpoint) unhealthy(threshold int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCount >= threshold
}

func (e *endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount++
	e.lastFailureTime = time.Now()
}

func (e *endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failureCount = 0
}

// readmitted reports whether cbTimeout has passed since the last
// failure, allowing a tentative retry of an unhealthy endpoint (§4.K
// "re-admitted once now - last_failure_time > cb_timeout").
func (e *endpoint) readmitted(cbTimeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastFailureTime) > cbTimeout
}

// Router proxies /files/{name} requests to one of a fixed set of
// retriever endpoints.
type Router struct {
	cfg       Config
	endpoints []*endpoint
	client    *fasthttp.Client
	rrCounter uint64
	stats     *stats.Registry
}

func New(cfg Config, st *stats.Registry) (*Router, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, cos.NewErrValidation("router requires at least one endpoint")
	}
	if cfg.CBThreshold <= 0 {
		cfg.CBThreshold = 5
	}
	if cfg.CBTimeout <= 0 {
		cfg.CBTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	eps := make([]*endpoint, len(cfg.Endpoints))
	for i, addr := range cfg.Endpoints {
		w := 1
		if i < len(cfg.Weights) {
			w = cfg.Weights[i]
		}
		eps[i] = &endpoint{addr: addr, weight: w}
	}
	return &Router{
		cfg:       cfg,
		endpoints: eps,
		client:    &fasthttp.Client{ReadTimeout: cfg.RequestTimeout, WriteTimeout: cfg.RequestTimeout},
		stats:     st,
	}, nil
}

// RoutingTable is the §6.3 GET /routing-table payload.
type RoutingTable struct {
	Endpoints []EndpointStatus `json:"endpoints"`
	Strategy  Strategy         `json:"strategy"`
}

type EndpointStatus struct {
	Addr    string `json:"addr"`
	Healthy bool   `json:"healthy"`
}

func (r *Router) routingTable() RoutingTable {
	out := RoutingTable{Strategy: r.cfg.Strategy}
	for _, e := range r.endpoints {
		out.Endpoints = append(out.Endpoints, EndpointStatus{Addr: e.addr, Healthy: !e.unhealthy(r.cfg.CBThreshold)})
	}
	return out
}

// primaryIndex picks the primary endpoint index for name per the
// configured strategy (§4.K); hashByte and hashHex, when non-empty,
// short-circuit the hash computation from query params (§6.3).
func (r *Router) primaryIndex(name, hashHex, hashByte string) int {
	n := len(r.endpoints)
	switch r.cfg.Strategy {
	case StrategyRoundRobin:
		i := atomic.AddUint64(&r.rrCounter, 1)
		return int(i % uint64(n))
	case StrategyWeighted:
		return r.weightedIndex()
	default: // StrategyHashByte
		b := firstHashByte(name, hashHex, hashByte)
		return int(b) % n
	}
}

func firstHashByte(name, hashHex, hashByte string) byte {
	if hashByte != "" {
		if v, err := strconv.ParseUint(hashByte, 16, 8); err == nil {
			return byte(v)
		}
	}
	if hashHex != "" {
		if raw, err := hex.DecodeString(hashHex); err == nil && len(raw) > 0 {
			return raw[0]
		}
	}
	sum := sha256.Sum256([]byte(name))
	return sum[0]
}

func (r *Router) weightedIndex() int {
	total := 0
	for _, e := range r.endpoints {
		total += e.weight
	}
	if total <= 0 {
		return 0
	}
	pick := int(atomic.AddUint64(&r.rrCounter, 1)) % total
	for i, e := range r.endpoints {
		if pick < e.weight {
			return i
		}
		pick -= e.weight
	}
	return len(r.endpoints) - 1
}

// pickHealthy returns the primary endpoint if healthy, else the first
// healthy endpoint other than primary, else (if none healthy) the
// first endpoint whose CB timeout has elapsed, else -1 (§4.K
// fallback).
func (r *Router) pickHealthy(primary int) int {
	if !r.endpoints[primary].unhealthy(r.cfg.CBThreshold) {
		return primary
	}
	for i, e := range r.endpoints {
		if i != primary && !e.unhealthy(r.cfg.CBThreshold) {
			return i
		}
	}
	for i, e := range r.endpoints {
		if e.readmitted(r.cfg.CBTimeout) {
			return i
		}
	}
	return -1
}

// Handler mounts the §6.3 router HTTP surface: the retriever's
// /files/{name} GET/HEAD surface proxied, plus GET /routing-table.
func (r *Router) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/routing-table":
			writeJSON(ctx, fasthttp.StatusOK, r.routingTable())
		case path == "/health":
			writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		case path == "/metrics":
			r.handleMetrics(ctx)
		case len(path) > len("/files/") && path[:len("/files/")] == "/files/":
			r.proxyFile(ctx, path)
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
}

func (r *Router) handleMetrics(ctx *fasthttp.RequestCtx) {
	if r.stats == nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	body, contentType, err := r.stats.Render()
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType(contentType)
	ctx.SetBody(body)
}

func (r *Router) proxyFile(ctx *fasthttp.RequestCtx, path string) {
	name := path[len("/files/"):]
	hashHex := string(ctx.QueryArgs().Peek("hash"))
	hashByte := string(ctx.QueryArgs().Peek("hash_byte"))
	primary := r.primaryIndex(name, hashHex, hashByte)

	attempts := r.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		idx := r.pickHealthy(primary)
		if idx < 0 {
			break
		}
		ep := r.endpoints[idx]
		status, body, headers, err := r.forward(ctx, ep.addr, path, string(ctx.Method()))
		if err == nil && status < 500 {
			ep.recordSuccess()
			for k, v := range headers {
				ctx.Response.Header.Set(k, v)
			}
			ctx.SetStatusCode(status)
			ctx.SetBody(body)
			r.observe(ep.addr, status)
			return
		}
		ep.recordFailure()
		if ep.unhealthy(r.cfg.CBThreshold) {
			nlog.Warningf("router endpoint unhealthy: %s", nlog.Fields("endpoint", ep.addr))
			if r.stats != nil {
				r.stats.RouterCircuitTrips.WithLabelValues(ep.addr).Inc()
			}
		}
		r.observe(ep.addr, status)
		time.Sleep(time.Duration(1<<attempt) * 50 * time.Millisecond)
	}

	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
}

func (r *Router) observe(endpoint string, status int) {
	if r.stats == nil {
		return
	}
	r.stats.RouterRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

// forward issues one upstream request and returns its status, body,
// and the diagnostic headers worth propagating.
func (r *Router) forward(parent *fasthttp.RequestCtx, addr, path, method string) (status int, body []byte, headers map[string]string, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("http://%s%s", addr, path))
	req.Header.SetMethod(method)

	if err := r.client.DoTimeout(req, resp, r.cfg.RequestTimeout); err != nil {
		return 0, nil, nil, err
	}

	headers = map[string]string{}
	for _, h := range []string{"X-DES-Container", "X-DES-Shard-Id", "X-DES-Size-Bytes", "X-DES-Is-External"} {
		if v := resp.Header.Peek(h); len(v) > 0 {
			headers[h] = string(v)
		}
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), headers, nil
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
