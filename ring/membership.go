package ring

import (
	"sync"
)

// Membership wraps a HashRing so that a caller managing a changing cluster
// (servers added, removed, or reported down by an external topology
// watcher) can evolve the continuum at runtime without discarding it and
// rebuilding every collaborator from scratch. Grounded on
// BaseShardManager.UpdateShardStates, which diffs an old and a new address
// set under a single mutex and reports exactly which addresses were
// added/removed so the caller can register/unregister the corresponding
// connection pools.
//
// A caller who never needs dynamic membership can use HashRing directly;
// Membership only adds a mutex-guarded indirection on top.
type Membership struct {
	mu      sync.RWMutex
	current *HashRing // guarded by mu

	logError func(error)
	logInfo  func(...interface{})
}

// NewMembership builds a Membership over the initial address set.
func NewMembership(
	addrs []string,
	logError func(error),
	logInfo func(...interface{}),
) (*Membership, error) {
	r, err := New(addrs)
	if err != nil {
		return nil, err
	}
	return &Membership{
		current:  r,
		logError: logError,
		logInfo:  logInfo,
	}, nil
}

// Ring returns the current continuum. The returned *HashRing is immutable
// and safe to keep using even after a subsequent Update swaps it out from
// under the Membership -- in-flight lookups simply keep using the ring they
// already captured.
func (m *Membership) Ring() *HashRing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update rebuilds the continuum over the new address set and reports which
// addresses were added and which were removed relative to the previous
// set, so the caller can spin up SocketPools for the former and tear down
// the latter. Unaffected addresses are left alone: their SocketPools are
// not touched, only the continuum itself is rebuilt (rebuilding is cheap --
// at most a few hundred ring points -- so no incremental-ring algorithm is
// attempted here; rebuilding wholesale is simpler than patching a shard
// state table in place.
func (m *Membership) Update(addrs []string) (added, removed []string, err error) {
	newRing, err := New(addrs)
	if err != nil {
		if m.logError != nil {
			m.logError(err)
		}
		return nil, nil, err
	}

	m.mu.Lock()
	oldAddrs := m.current.Servers()
	m.current = newRing
	m.mu.Unlock()

	added, removed = diffAddrs(oldAddrs, addrs)
	if m.logInfo != nil && (len(added) > 0 || len(removed) > 0) {
		m.logInfo("ring membership changed: added=", added, " removed=", removed)
	}
	return added, removed, nil
}

// diffAddrs returns the addresses present in next but not prev (added) and
// the addresses present in prev but not next (removed) -- the same
// add/remove-address diffing BaseShardManager.UpdateShardStates uses to
// decide which shards need new connections and which need to be torn down.
// The sets involved are at most a few hundred server addresses, never large
// enough to justify anything beyond a plain map.
func diffAddrs(prev, next []string) (added, removed []string) {
	prevSet := make(map[string]bool, len(prev))
	for _, a := range prev {
		prevSet[a] = true
	}
	nextSet := make(map[string]bool, len(next))
	for _, a := range next {
		nextSet[a] = true
	}

	for a := range nextSet {
		if !prevSet[a] {
			added = append(added, a)
		}
	}
	for a := range prevSet {
		if !nextSet[a] {
			removed = append(removed, a)
		}
	}
	return added, removed
}
