package hasher

import (
	"fmt"
	"testing"

	"flatbatch/logger"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

func TestHashBytes(t *testing.T) {
	logger.Init("info")
	hashes := HashBytes([]byte("hello world"), []string{"md5", "sha1", "sha256", "xxh64", "blake3", "unknown"})
	if hashes["md5"] != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("md5 mismatch: %s", hashes["md5"])
	}
	if hashes["sha1"] != "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed" {
		t.Errorf("sha1 mismatch: %s", hashes["sha1"])
	}
	if hashes["sha256"] != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("sha256 mismatch: %s", hashes["sha256"])
	}
	if want := fmt.Sprintf("%016x", xxhash.Sum64String("hello world")); hashes["xxh64"] != want {
		t.Errorf("xxh64 mismatch: %s, want %s", hashes["xxh64"], want)
	}
	sum := blake3.Sum256([]byte("hello world"))
	if want := fmt.Sprintf("%x", sum[:]); hashes["blake3"] != want {
		t.Errorf("blake3 mismatch: %s, want %s", hashes["blake3"], want)
	}
	if _, ok := hashes["unknown"]; ok {
		t.Errorf("unexpected hash for unknown algorithm")
	}
}

func TestHashBytesDeduplicatesAlgorithms(t *testing.T) {
	hashes := HashBytes([]byte(`{"hp": 80, "name": "orc"}`), []string{"sha256", "sha256", "xxh64"})
	if len(hashes) != 2 || hashes["sha256"] == "" || hashes["xxh64"] == "" {
		t.Fatalf("unexpected hashes: %v", hashes)
	}
	if empty := HashBytes(nil, nil); len(empty) != 0 {
		t.Fatalf("expected no hashes, got %v", empty)
	}
}
