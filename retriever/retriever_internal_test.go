package retriever

import "testing"

func TestContainerKeyFormat(t *testing.T) {
	s := &Service{cfg: Config{Prefix: "des", ShardBits: 8, FormatVersion: 1}}
	key, shard, err := s.containerKey("DES_20250615_(0123456789AB_7F)")
	if err != nil {
		t.Fatal(err)
	}
	const want = "des/2025-06-15/"
	if len(key) < len(want) || key[:len(want)] != want {
		t.Fatalf("expected key to start with %q, got %q", want, key)
	}
	if shard >= 256 {
		t.Fatalf("8-bit shard id must be < 256, got %d", shard)
	}
}

func TestContainerKeyWidthMatchesShardBits(t *testing.T) {
	s := &Service{cfg: Config{Prefix: "des", ShardBits: 10}}
	key, _, err := s.containerKey("DES_20250615_(0123456789AB_7F)")
	if err != nil {
		t.Fatal(err)
	}
	// ceil(10/4) == 3 hex digits.
	const suffix = ".des"
	body := key[len("des/2025-06-15/shard_") : len(key)-len(suffix)]
	if len(body) != 3 {
		t.Fatalf("expected 3 hex digits for shard_bits=10, got %q (%d digits)", body, len(body))
	}
}

func TestContainerKeyRejectsMalformedName(t *testing.T) {
	s := &Service{cfg: Config{Prefix: "des", ShardBits: 8}}
	if _, _, err := s.containerKey("not-a-valid-name"); err == nil {
		t.Fatal("expected error for malformed name")
	}
}

func TestRouteLabelCollapsesFilesRoute(t *testing.T) {
	if got := routeLabel("/files/DES_20250615_(0123456789AB_7F)"); got != "/files/{name}" {
		t.Fatalf("expected route label to collapse the name, got %q", got)
	}
	if got := routeLabel("/health"); got != "/health" {
		t.Fatalf("expected non-files path to pass through unchanged, got %q", got)
	}
}
