// Package ring implements the consistent-hash continuum that maps a key to
// one of a fixed (or, via Membership, dynamically updated) set of server
// addresses. The continuum construction and lookup are grounded on the
// hash2/hashring package (sorted hash slice, sort.Search lookup with
// wraparound), adapted to the exact point-generation scheme and hash
// function this client must reproduce bit for bit.
package ring

import (
	"sort"
	"strconv"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

// pointsPerServer is fixed by the continuum construction this client must
// reproduce bit for bit: 30 ring points per server, chained from a single
// seed hash of the server's address string.
const pointsPerServer = 30

type ringPoint struct {
	hash uint32
	addr string
}

// HashRing is an immutable consistent-hash continuum. It is safe to share
// across goroutines without synchronization: nothing on it mutates after
// New returns.
type HashRing struct {
	points []ringPoint // sorted ascending by hash; hashes are unique

	// single holds the sole server address when the ring was built from
	// exactly one address. Lookup short-circuits on this, both as a speed
	// optimization and as a correctness crutch: a sole-host deployment
	// must keep working even in the degenerate case where hashing the one
	// host could theoretically collide with itself across all 30 points.
	single string
}

// New builds a HashRing over addrs. addrs must be non-empty and contain no
// duplicate entries; both are construction-time invariants, not per-lookup
// checks, so violating them returns a Configuration error rather than
// corrupting the ring silently.
func New(addrs []string) (*HashRing, error) {
	if len(addrs) == 0 {
		return nil, mcerr.NewConfiguration("ring: at least one server address is required")
	}

	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if a == "" {
			return nil, mcerr.NewConfiguration("ring: server address must not be empty")
		}
		if seen[a] {
			return nil, mcerr.NewConfigurationf("ring: duplicate server address %q", a)
		}
		seen[a] = true
	}

	if len(addrs) == 1 {
		return &HashRing{single: addrs[0]}, nil
	}

	claimed := make(map[uint32]bool)
	points := make([]ringPoint, 0, len(addrs)*pointsPerServer)

	for _, addr := range addrs {
		h := ModifiedFNV1_32([]byte(addr))
		for i := 0; i < pointsPerServer; i++ {
			if !claimed[h] {
				claimed[h] = true
				points = append(points, ringPoint{hash: h, addr: addr})
			}
			h = ModifiedFNV1_32([]byte(strconv.FormatUint(uint64(h), 10)))
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })

	return &HashRing{points: points}, nil
}

// Lookup returns the server address owning the given key hash, or "" if the
// ring has no points at all (which New never produces, but a zero-value
// HashRing could).
func (r *HashRing) Lookup(hash uint32) string {
	if r.single != "" {
		return r.single
	}
	if len(r.points) == 0 {
		return ""
	}

	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= hash
	})
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].addr
}

// LookupKey hashes key with ModifiedFNV1_32 and returns the owning server
// address. Callers that need the raw hash (e.g. to log it, or to support an
// explicit KeyHash override per the engine's entry contract) should call
// ModifiedFNV1_32 and Lookup directly instead.
func (r *HashRing) LookupKey(key string) string {
	return r.Lookup(ModifiedFNV1_32([]byte(key)))
}

// Servers returns the distinct server addresses backing this ring, in
// unspecified order. Used by Membership to diff an old ring against a new
// address set.
func (r *HashRing) Servers() []string {
	if r.single != "" {
		return []string{r.single}
	}
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, p := range r.points {
		if !seen[p.addr] {
			seen[p.addr] = true
			out = append(out, p.addr)
		}
	}
	return out
}
