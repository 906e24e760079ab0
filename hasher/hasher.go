package hasher

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"flatbatch/logger"

	"github.com/cespare/xxhash/v2"
	"lukechampine.com/blake3"
)

// Supported lists the algorithm names accepted by HashBytes.
var Supported = []string{"md5", "sha1", "sha256", "xxh64", "blake3"}

type hasherEntry struct {
	name string
	h    hash.Hash
}

func newHashers(algorithms []string) []hasherEntry {
	hashers := make([]hasherEntry, 0, len(algorithms))
	seen := make(map[string]struct{}, len(algorithms))
	for _, algo := range algorithms {
		if _, ok := seen[algo]; ok {
			continue
		}
		var h hash.Hash
		switch algo {
		case "md5":
			h = md5.New()
		case "sha1":
			h = sha1.New()
		case "sha256":
			h = sha256.New()
		case "xxh64":
			h = xxhash.New()
		case "blake3":
			h = blake3.New(32, nil)
		default:
			logger.Warnf("Unsupported hash algorithm: %s", algo)
			continue
		}
		seen[algo] = struct{}{}
		hashers = append(hashers, hasherEntry{name: algo, h: h})
	}
	return hashers
}

func digests(hashers []hasherEntry) map[string]string {
	hashes := make(map[string]string, len(hashers))
	for i := range hashers {
		hashes[hashers[i].name] = hex.EncodeToString(hashers[i].h.Sum(nil))
	}
	return hashes
}

// HashBytes digests content already held in memory, such as a freshly
// read compiler output.
func HashBytes(data []byte, algorithms []string) map[string]string {
	hashers := newHashers(algorithms)
	for i := range hashers {
		_, _ = hashers[i].h.Write(data)
	}
	return digests(hashers)
}
