package ring

// ModifiedFNV1_32 computes the 32-bit FNV-1 hash (not FNV-1a: the multiply
// happens before the xor on every byte) and then bitwise-complements the
// accumulator before returning it. This is deliberately not interchangeable
// with stock FNV-1 or FNV-1a -- the complement step is what the continuum
// construction in ring.go depends on, and changing it silently reassigns
// every key on the ring.
func ModifiedFNV1_32(data []byte) uint32 {
	const offsetBasis uint32 = 0x811c9dc5
	const prime uint32 = 0x01000193

	hash := offsetBasis
	for _, b := range data {
		hash *= prime
		hash ^= uint32(b)
	}
	return ^hash
}
