package crypto

import (
	"sync/atomic"

	"github.com/eth2030/interchain/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSignerCacheSize is used when NewSignerCache is given a non-positive size.
const DefaultSignerCacheSize = 4096

// SignerCacheStats holds hit/miss statistics for a SignerCache.
type SignerCacheStats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

// SignerCache memoises signer recovery keyed by keccak256(digest || sig).
// Relayers commonly resubmit the same checkpoint signatures for every
// message under that checkpoint, so the same (digest, signature) pair is
// recovered many times. Failed recoveries are not cached. Safe for
// concurrent use.
type SignerCache struct {
	entries *lru.Cache[types.Hash, types.Address]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// NewSignerCache creates a cache holding up to size recovered signers.
func NewSignerCache(size int) *SignerCache {
	if size <= 0 {
		size = DefaultSignerCacheSize
	}
	// lru.New only fails for non-positive sizes.
	entries, _ := lru.New[types.Hash, types.Address](size)
	return &SignerCache{entries: entries}
}

// Recover returns the signer of sig over digest, consulting the cache first.
func (c *SignerCache) Recover(digest types.Hash, sig CompactSignature) (types.Address, error) {
	key := Keccak256Hash(digest[:], sig[:])
	if addr, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return addr, nil
	}
	c.misses.Add(1)

	addr, err := RecoverAddress(digest, sig)
	if err != nil {
		return types.Address{}, err
	}
	c.entries.Add(key, addr)
	return addr, nil
}

// Len returns the number of cached entries.
func (c *SignerCache) Len() int { return c.entries.Len() }

// Purge drops every cached entry. Statistics are kept.
func (c *SignerCache) Purge() { c.entries.Purge() }

// Stats returns a snapshot of the cache statistics.
func (c *SignerCache) Stats() SignerCacheStats {
	return SignerCacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.entries.Len(),
	}
}
