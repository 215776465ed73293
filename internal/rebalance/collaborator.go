package rebalance

import "github.com/liran-funaro/memcached-slabs/internal/item"

// Collaborator is the narrow slice of the cache the rebalancer calls into,
// per spec.md §6: the cache-wide lock, and the ability to unlink an item
// from the hash index/LRU while that lock is already held. Everything
// else about the cache (the hash table, LRU, connection handling) stays
// out of scope, per spec.md §1.
type Collaborator interface {
	// Lock/Unlock guard the cache_lock spec.md §5 requires the
	// rebalancer hold across START, MOVE, and FINISH.
	Lock()
	Unlock()

	// ItemUnlinkNoLock removes c from the hash index/LRU. Called only
	// while Lock is held and only for chunks observed to carry the
	// Linked flag.
	ItemUnlinkNoLock(c item.Chunk)
}
