package engine

import (
	"net"
	"strings"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

const maxKeyLength = 250

// validateKey enforces the engine's key contract: non-empty, at most 250
// bytes, and free of spaces or ASCII control whitespace (HT, LF, VT, FF,
// CR), all checked before any network activity.
func validateKey(key string) error {
	if len(key) == 0 {
		return mcerr.NewInvalidKey(key, "key is empty")
	}
	if len(key) > maxKeyLength {
		return mcerr.NewInvalidKey(key, "key exceeds 250 bytes")
	}
	for _, b := range []byte(key) {
		switch b {
		case ' ', '\t', '\n', '\v', '\f', '\r':
			return mcerr.NewInvalidKey(key, "key contains whitespace or control character")
		}
	}
	return nil
}

// wireKey returns the key as it should appear on the wire: the key with
// the configured prefix prepended. The prefix is never part of hashing.
func wireKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

// stripPrefix removes a configured prefix from a key the server echoed
// back, so that the Item returned to the caller carries the original
// (unprefixed) key. A server reply key that does not carry the expected
// prefix is reported as not stripped, rather than silently matched against
// the wrong slot; callers must look up reply positions by the verbatim
// wire key, never by this function's output.
func stripPrefix(prefix, key string) (string, bool) {
	if prefix == "" {
		return key, true
	}
	if !strings.HasPrefix(key, prefix) {
		return key, false
	}
	return key[len(prefix):], true
}

// normalizeAddr appends the default memcached port when addr carries none.
// A bare IPv6 address ("::1" or "[::1]") carries no port and comes back
// bracketed with the default port ("[::1]:11211").
func normalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), "11211")
}
