// Package assign implements name generation and shard-hash routing
// (spec §3.6, §3.7, §4.E). This is the single hash computation used
// everywhere in the system: marker, packer, retriever, router.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package assign

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode"

	"github.com/datavision/des/cmn/cos"
)

// Config mirrors spec §6.6's node_id/wrap_bits/prefix keys.
type Config struct {
	NodeID   uint8
	WrapBits uint8 // [1,32]
	Prefix   string
}

func (c Config) validate() error {
	if c.WrapBits < 1 || c.WrapBits > 32 {
		return cos.NewErrValidation("wrap_bits must be in [1,32], got %d", c.WrapBits)
	}
	if c.Prefix == "" {
		return cos.NewErrValidation("prefix must be non-empty")
	}
	for _, r := range c.Prefix {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return cos.NewErrValidation("prefix must be ASCII alphanumeric, got %q", c.Prefix)
		}
	}
	return nil
}

// Generator produces unique, lexicographically-sortable names: thread
// safe, one (last_ms, seq) pair guarded by a mutex (§3.6).
type Generator struct {
	cfg    Config
	mu     sync.Mutex
	lastMs int64
	seq    uint8
	nowFn  func() time.Time // overridable for tests
}

func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg, lastMs: -1, nowFn: time.Now}, nil
}

// Next returns the next name, of the form
// "<PREFIX>_<YYYYMMDD>_(<F12>_<C2>)" (§3.6).
func (g *Generator) Next() string {
	f := g.nextF48()
	cc := checksum(f)
	day := g.nowFn().UTC().Format("20060102")
	return fmt.Sprintf("%s_%s_(%012X_%02X)", g.cfg.Prefix, day, f, cc)
}

func (g *Generator) nextF48() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	nowMs := g.nowFn().UnixMilli()
	if nowMs < g.lastMs {
		nowMs = g.lastMs // clock regression: hold at last emitted ms
	}

	if nowMs == g.lastMs {
		g.seq++
		if g.seq == 0 {
			// exhausted 256 values this millisecond: busy-wait for the next
			for nowMs <= g.lastMs {
				nowMs = g.nowFn().UnixMilli()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = nowMs

	mask := (uint64(1) << g.cfg.WrapBits) - 1
	tLow := uint64(nowMs) & mask

	f := (tLow << 16) | (uint64(g.cfg.NodeID) << 8) | uint64(g.seq)
	return f & ((1 << 48) - 1)
}

// checksum is the sum of F's 6 big-endian bytes mod 256.
func checksum(f uint64) uint8 {
	var sum uint8
	for i := 5; i >= 0; i-- {
		sum += uint8(f >> (uint(i) * 8))
	}
	return sum
}

// MaxShardBits is the largest shard_bits this implementation supports.
// Spec §3.7/§6.6 allow shard_bits up to 256, but a shard id is carried
// as a uint32 everywhere in this codebase (store schema, HTTP headers,
// routing tables); widening that representation has no caller that
// needs more than 2^32 shards, so shardBits>32 is rejected rather than
// silently truncated to a wrong id.
const MaxShardBits = 32

// ShardID returns the shard routing id for name: the top n bits of
// SHA-256(name), where total shards = 2^n (§3.7). This function is the
// single source of truth; the marker, packer, retriever, and router
// all call it. shardBits must be in [1,MaxShardBits]; a wider value
// returns an error instead of a truncated, wrong id.
func ShardID(name string, shardBits uint8) (uint32, error) {
	if shardBits == 0 || shardBits > MaxShardBits {
		return 0, cos.NewErrValidation("shard_bits must be in [1,%d], got %d", MaxShardBits, shardBits)
	}
	sum := sha256.Sum256([]byte(name))
	// Take the top shardBits bits of the 256-bit digest as a big-endian
	// value: combine the leading bytes, then shift down to shardBits.
	var v uint64
	nBytes := (int(shardBits) + 7) / 8
	for i := 0; i < nBytes; i++ {
		v = (v << 8) | uint64(sum[i])
	}
	totalBits := nBytes * 8
	shift := totalBits - int(shardBits)
	if shift > 0 {
		v >>= uint(shift)
	}
	return uint32(v), nil
}

// TotalShards returns 2^shardBits. shardBits must be in
// [1,MaxShardBits-1]: ShardID's uint32 ids are valid up through
// MaxShardBits bits, but the *count* 2^MaxShardBits itself overflows
// uint32, so a caller that needs to iterate "every shard" (as
// despacker's static pod/shard split does) cannot be given a count at
// that width; shardBits==MaxShardBits is valid for ShardID but rejected
// here.
func TotalShards(shardBits uint8) (uint32, error) {
	if shardBits == 0 || shardBits >= MaxShardBits {
		return 0, cos.NewErrValidation("shard_bits must be in [1,%d] to enumerate all shards, got %d", MaxShardBits-1, shardBits)
	}
	return uint32(1) << shardBits, nil
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9]+_(\d{8})_\([0-9A-Fa-f]{12}_[0-9A-Fa-f]{2}\)$`)

// ParseDay extracts the YYYYMMDD middle component out of a generated
// name, as formatted by Next (§3.6). The retriever uses this to build
// the container key without a DB lookup, per §4.J's "from name, parse
// the YYYYMMDD middle component".
func ParseDay(name string) (string, error) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return "", cos.NewErrValidation("name %q does not match the generated-name pattern", name)
	}
	return m[1], nil
}

// OwnsShard implements the static pod-to-shard seed mapping (§4.E):
// shard s is owned by pod p iff s mod num_pods == p.
func OwnsShard(shard uint32, podIndex, numPods int) bool {
	if numPods <= 0 {
		return false
	}
	return int(shard)%numPods == podIndex
}
