// Package config loads the single Config struct every DES process
// entrypoint (cmd/despacker, cmd/desretriever, cmd/desrouter,
// cmd/desmarker, cmd/desrecover) starts from: a YAML file plus
// environment-variable overrides, covering every key in spec §6.6 plus
// the connection strings the core needs but the spec treats as
// external (§1: "configuration loading ... out of scope").
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datavision/des/assign"
	"github.com/datavision/des/cmn/cos"
)

// Assign mirrors §6.6's node_id/wrap_bits/shard_bits/prefix group.
type Assign struct {
	NodeID    uint8  `yaml:"node_id"`
	WrapBits  uint8  `yaml:"wrap_bits"`
	ShardBits uint8  `yaml:"shard_bits"`
	Prefix    string `yaml:"prefix"`
}

// Writer mirrors §6.6's container/writer knobs.
type Writer struct {
	BigFileThreshold uint64 `yaml:"big_file_threshold"`
	MaxGapSize       int64  `yaml:"max_gap_size"`
}

// Packer mirrors §6.6's packer/checkpoint/lock knobs.
type Packer struct {
	WorkDir                string        `yaml:"work_dir"`
	BatchSize              int           `yaml:"batch_size"`
	LockTTL                time.Duration `yaml:"lock_ttl"`
	CheckpointEveryFiles   uint64        `yaml:"checkpoint_every_files"`
	CheckpointEverySeconds time.Duration `yaml:"checkpoint_every_seconds"`
	LoopSleep              time.Duration `yaml:"loop_sleep"`
	MaxUploadRetries       int           `yaml:"max_upload_retries"`
}

// Marker mirrors §6.6's marker knobs.
type Marker struct {
	MaxAge        time.Duration `yaml:"max_age"`
	BatchSize     int           `yaml:"batch_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	MaxRetries    int           `yaml:"max_retries"`
	Backoff       float64       `yaml:"backoff"`
	IdleSleep     time.Duration `yaml:"idle_sleep"`
}

// Recovery mirrors §6.6's claim_timeout/container_grace knobs.
type Recovery struct {
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
	Grace        time.Duration `yaml:"container_grace"`
	Interval     time.Duration `yaml:"interval"`
}

// Router mirrors §6.6's cb_threshold/cb_timeout knobs plus the
// endpoint set and request timeout (§5).
type Router struct {
	Endpoints      []string      `yaml:"endpoints"`
	Weights        []int         `yaml:"weights"`
	Strategy       string        `yaml:"strategy"` // hash_byte | round_robin | weighted
	CBThreshold    int           `yaml:"cb_threshold"`
	CBTimeout      time.Duration `yaml:"cb_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// Cache mirrors §6.6's cache_backend/cache_ttl/cache_max_size knobs.
type Cache struct {
	Backend string        `yaml:"cache_backend"` // memory | remote | null
	TTL     time.Duration `yaml:"cache_ttl"`
	MaxSize int           `yaml:"cache_max_size"`
	BuntDB  string        `yaml:"buntdb_path"`
}

// ObjectStore carries the S3-compatible endpoint this deployment talks
// to (§1 treats credential loading as external; these are the fields
// objstore.Config needs).
type ObjectStore struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
}

// Config is the top-level shape every cmd/ entrypoint loads.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	MetaDSN    string `yaml:"meta_dsn"`

	Assign      Assign      `yaml:"assign"`
	Writer      Writer      `yaml:"writer"`
	Packer      Packer      `yaml:"packer"`
	Marker      Marker      `yaml:"marker"`
	Recovery    Recovery    `yaml:"recovery"`
	Router      Router      `yaml:"router"`
	Cache       Cache       `yaml:"cache"`
	ObjectStore ObjectStore `yaml:"object_store"`
}

// Default returns a Config with every §6.6 default applied (big file
// threshold 100 MiB, max gap size 1 MiB, plus sane process defaults).
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Assign: Assign{
			WrapBits:  32,
			ShardBits: 8,
			Prefix:    "DES",
		},
		Writer: Writer{
			BigFileThreshold: 100 << 20,
			MaxGapSize:       1 << 20,
		},
		Packer: Packer{
			WorkDir:                "/var/lib/des/work",
			BatchSize:              100,
			LockTTL:                30 * time.Second,
			CheckpointEveryFiles:   50,
			CheckpointEverySeconds: 10 * time.Second,
			LoopSleep:              2 * time.Second,
			MaxUploadRetries:       5,
		},
		Marker: Marker{
			MaxAge:        5 * time.Minute,
			BatchSize:     200,
			RatePerSecond: 50,
			MaxRetries:    3,
			Backoff:       2,
			IdleSleep:     3 * time.Second,
		},
		Recovery: Recovery{
			ClaimTimeout: 10 * time.Minute,
			Grace:        15 * time.Minute,
			Interval:     5 * time.Minute,
		},
		Router: Router{
			Strategy:       "hash_byte",
			CBThreshold:    5,
			CBTimeout:      30 * time.Second,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
		},
		Cache: Cache{
			Backend: "memory",
			TTL:     10 * time.Minute,
			MaxSize: 10000,
		},
	}
}

// Load reads path as YAML over the §6.6 defaults, then applies
// DES_-prefixed environment overrides for the handful of values
// deployments most often need to vary per-process (listen address,
// DSN, object-store bucket/endpoint/credentials, shard bits, node id)
// without templating the whole file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, cos.NewErrValidation("parse config %q: %v", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DES_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DES_META_DSN"); v != "" {
		cfg.MetaDSN = v
	}
	if v := os.Getenv("DES_OBJSTORE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("DES_OBJSTORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("DES_OBJSTORE_ACCESS_KEY_ID"); v != "" {
		cfg.ObjectStore.AccessKeyID = v
	}
	if v := os.Getenv("DES_OBJSTORE_SECRET_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.SecretAccessKey = v
	}
	if v := os.Getenv("DES_SHARD_BITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Assign.ShardBits = uint8(n)
		}
	}
	if v := os.Getenv("DES_NODE_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Assign.NodeID = uint8(n)
		}
	}
}

func (c Config) validate() error {
	if c.Assign.ShardBits < 1 || c.Assign.ShardBits > assign.MaxShardBits {
		// §6.6 allows up to 256, but assign.ShardID carries shard ids as
		// uint32 (store schema, HTTP headers, routing tables); shardBits
		// above assign.MaxShardBits would require a wider representation
		// that nothing in this codebase needs. assign.ShardID/TotalShards
		// enforce this same bound independently, so a caller that
		// constructs an Assign config by hand (bypassing this validator)
		// still gets a validation error instead of a silently truncated
		// shard id.
		return cos.NewErrValidation("shard_bits must be in [1,%d], got %d", assign.MaxShardBits, c.Assign.ShardBits)
	}
	if c.ObjectStore.Bucket == "" {
		return cos.NewErrValidation("object_store.bucket is required")
	}
	return nil
}
