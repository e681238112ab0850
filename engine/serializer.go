package engine

import (
	"encoding/binary"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

// Serializer converts Go values to and from the wire's opaque bytes+flags
// representation. The core treats flags purely as a type tag it stamps and
// echoes back; interpreting it is entirely the serializer's business, which
// keeps the wire protocol itself language-agnostic.
type Serializer interface {
	Serialize(v interface{}) (data []byte, flags uint16, err error)
	Deserialize(data []byte, flags uint16) (interface{}, error)
}

const (
	flagsRawBytes uint16 = 0
	flagsString   uint16 = 1
	flagsUint64   uint16 = 2
)

// defaultSerializer handles the three shapes of value memcache's own
// callers exercise: raw bytes, UTF-8 strings, and little-endian uint64
// counters stored as binary rather than through incr/decr.
type defaultSerializer struct{}

// DefaultSerializer returns the built-in serializer wired in when a Config
// supplies none.
func DefaultSerializer() Serializer { return defaultSerializer{} }

func (defaultSerializer) Serialize(v interface{}) ([]byte, uint16, error) {
	switch t := v.(type) {
	case []byte:
		return t, flagsRawBytes, nil
	case string:
		return []byte(t), flagsString, nil
	case uint64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, t)
		return buf, flagsUint64, nil
	default:
		return nil, 0, mcerr.NewConfigurationf(
			"default serializer cannot encode value of type %T", v)
	}
}

func (defaultSerializer) Deserialize(data []byte, flags uint16) (interface{}, error) {
	switch flags {
	case flagsRawBytes:
		return data, nil
	case flagsString:
		return string(data), nil
	case flagsUint64:
		if len(data) != 8 {
			return nil, mcerr.NewProtocolErrorf(
				"uint64-tagged value must be 8 bytes, got %d", len(data))
		}
		return binary.LittleEndian.Uint64(data), nil
	default:
		// An unrecognised tag is handed back as raw bytes rather than
		// treated as an error: the flags space is open-ended, and refusing
		// to return data at all would be more surprising than returning
		// bytes a caller didn't ask to decode.
		return data, nil
	}
}
