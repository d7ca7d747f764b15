package engine

import (
	"hash/fnv"
	"sync"
)

// pairLocks shards a fixed set of mutexes by currency pair key. Distinct pairs
// may share a shard; a pair never maps to more than one.
type pairLocks struct {
	shards []sync.Mutex
}

func newPairLocks(n int) *pairLocks {
	if n < 1 {
		n = 1
	}
	return &pairLocks{shards: make([]sync.Mutex, n)}
}

func (p *pairLocks) shard(pairKey string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(pairKey))
	return &p.shards[h.Sum32()%uint32(len(p.shards))]
}

// Lock acquires the shard for pairKey and returns its release func.
func (p *pairLocks) Lock(pairKey string) func() {
	mu := p.shard(pairKey)
	mu.Lock()
	return mu.Unlock
}
