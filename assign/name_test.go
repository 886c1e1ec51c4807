package assign_test

import (
	"regexp"
	"sync"
	"testing"

	"github.com/datavision/des/assign"
)

func TestGeneratorValidation(t *testing.T) {
	if _, err := assign.NewGenerator(assign.Config{NodeID: 1, WrapBits: 0, Prefix: "DES"}); err == nil {
		t.Fatal("expected error for wrap_bits=0")
	}
	if _, err := assign.NewGenerator(assign.Config{NodeID: 1, WrapBits: 32, Prefix: ""}); err == nil {
		t.Fatal("expected error for empty prefix")
	}
	if _, err := assign.NewGenerator(assign.Config{NodeID: 1, WrapBits: 32, Prefix: "not ascii!"}); err == nil {
		t.Fatal("expected error for non-alphanumeric prefix")
	}
}

var nameFormat = regexp.MustCompile(`^[A-Za-z0-9]+_\d{8}_\([0-9A-F]{12}_[0-9A-F]{2}\)$`)

func TestNameFormatAndMonotonicity(t *testing.T) {
	g, err := assign.NewGenerator(assign.Config{NodeID: 7, WrapBits: 32, Prefix: "DES"})
	if err != nil {
		t.Fatal(err)
	}
	prev := ""
	for i := 0; i < 500; i++ {
		n := g.Next()
		if !nameFormat.MatchString(n) {
			t.Fatalf("name %q does not match expected format", n)
		}
		if prev != "" && n <= prev {
			t.Fatalf("name %q is not greater than previous %q", n, prev)
		}
		prev = n
	}
}

// Name uniqueness under concurrency with distinct node_id (property #7).
func TestConcurrentGeneratorsDistinctNodesNoCollision(t *testing.T) {
	const nodes = 8
	const perNode = 200
	seen := make(chan string, nodes*perNode)
	var wg sync.WaitGroup
	for node := 0; node < nodes; node++ {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := assign.NewGenerator(assign.Config{NodeID: uint8(node), WrapBits: 32, Prefix: "DES"})
			if err != nil {
				t.Error(err)
				return
			}
			for i := 0; i < perNode; i++ {
				seen <- g.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	all := make(map[string]bool)
	for n := range seen {
		if all[n] {
			t.Fatalf("collision on name %q across concurrent generators", n)
		}
		all[n] = true
	}
	if len(all) != nodes*perNode {
		t.Fatalf("expected %d unique names, got %d", nodes*perNode, len(all))
	}
}

// Shard determinism (property #5) and the S5 scenario.
func TestShardIDDeterministic(t *testing.T) {
	name := "DES_20250101_(0123456789AB_7F)"
	a, err := assign.ShardID(name, 8)
	if err != nil {
		t.Fatal(err)
	}
	b, err := assign.ShardID(name, 8)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("shard id not deterministic: %d vs %d", a, b)
	}
	total, err := assign.TotalShards(8)
	if err != nil {
		t.Fatal(err)
	}
	if a >= total {
		t.Fatalf("shard id %d out of range for 8 bits", a)
	}
}

func TestShardIDVariesWithBits(t *testing.T) {
	name := "DES_20250101_(0123456789AB_7F)"
	s4, err := assign.ShardID(name, 4)
	if err != nil {
		t.Fatal(err)
	}
	s8, err := assign.ShardID(name, 8)
	if err != nil {
		t.Fatal(err)
	}
	total4, err := assign.TotalShards(4)
	if err != nil {
		t.Fatal(err)
	}
	total8, err := assign.TotalShards(8)
	if err != nil {
		t.Fatal(err)
	}
	if s4 >= total4 || s8 >= total8 {
		t.Fatal("shard id exceeds 2^shard_bits")
	}
}

// Boundary behavior for property #5's documented range (spec §3.7/§6.6:
// shard_bits in [1,256]): ShardID must error, not silently truncate,
// once shard_bits exceeds what a uint32 id can carry.
func TestShardIDRejectsOutOfRangeBits(t *testing.T) {
	name := "DES_20250101_(0123456789AB_7F)"
	if _, err := assign.ShardID(name, 0); err == nil {
		t.Fatal("expected error for shard_bits=0")
	}
	if _, err := assign.ShardID(name, assign.MaxShardBits+1); err == nil {
		t.Fatalf("expected error for shard_bits=%d", assign.MaxShardBits+1)
	}
	if _, err := assign.ShardID(name, 255); err == nil {
		t.Fatal("expected error for shard_bits=255 (spec's documented upper bound)")
	}
	if _, got := assign.ShardID(name, assign.MaxShardBits); got != nil {
		t.Fatalf("shard_bits=%d (the supported maximum) should not error, got %v", assign.MaxShardBits, got)
	}
	if _, err := assign.TotalShards(assign.MaxShardBits); err == nil {
		t.Fatalf("expected error enumerating all shards at shard_bits=%d (2^%d overflows uint32)", assign.MaxShardBits, assign.MaxShardBits)
	}
}

func TestOwnsShard(t *testing.T) {
	if assign.OwnsShard(5, 1, 3) {
		t.Fatal("shard 5 mod 3 == 2, expected pod 1 to not own it")
	}
	if !assign.OwnsShard(6, 0, 3) {
		t.Fatal("shard 6 mod 3 == 0, expected pod 0 to own it")
	}
}
