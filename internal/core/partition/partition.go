package partition

import "hash/fnv"

// Of returns the shard of key among n shards, in [0, n).
// Stable and deterministic: the same key and n always map to the same shard,
// so one group is always handled by exactly one worker.
// Uses FNV-32a (stdlib, fast, well-distributed).
func Of(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Split distributes keys over at most n shards and drops empty shards.
// Keys keep their relative order within a shard.
func Split(keys []string, n int) [][]int {
	if n < 1 {
		n = 1
	}
	shards := make([][]int, n)
	for i, k := range keys {
		s := Of(k, n)
		shards[s] = append(shards[s], i)
	}
	out := shards[:0]
	for _, s := range shards {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}
