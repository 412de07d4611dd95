package vector

import (
	"hash/fnv"
	"math"
)

// bloomFilter is a per-segment probabilistic membership test, adapted from
// storage-node's SSTable bloom filter: a quick MayContain(id) check before
// consulting a segment's id map, so upsert/get on a collection with many
// frozen segments doesn't walk every segment's map on a miss.
type bloomFilter struct {
	bits      []bool
	size      uint64
	hashCount uint64
}

func newBloomFilter(expectedElements int, falsePositiveRate float64) *bloomFilter {
	if expectedElements < 1 {
		expectedElements = 1
	}
	size := uint64(-float64(expectedElements) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	if size < 8 {
		size = 8
	}
	hashCount := uint64(float64(size) / float64(expectedElements) * math.Ln2)
	if hashCount == 0 {
		hashCount = 1
	}
	return &bloomFilter{bits: make([]bool, size), size: size, hashCount: hashCount}
}

func (bf *bloomFilter) add(key string) {
	for _, h := range bf.hashes(key) {
		bf.bits[h%bf.size] = true
	}
}

func (bf *bloomFilter) mayContain(key string) bool {
	for _, h := range bf.hashes(key) {
		if !bf.bits[h%bf.size] {
			return false
		}
	}
	return true
}

func (bf *bloomFilter) hashes(key string) []uint64 {
	h := fnv.New64()
	h.Write([]byte(key))
	hash1 := h.Sum64()

	h.Reset()
	h.Write([]byte(key + "salt"))
	hash2 := h.Sum64()

	out := make([]uint64, bf.hashCount)
	for i := uint64(0); i < bf.hashCount; i++ {
		out[i] = hash1 + i*hash2
	}
	return out
}
