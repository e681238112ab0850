// Package engine implements the protocol engine: it owns the hash ring and
// the per-server connection pools, encodes commands, parses replies, and
// exposes the library's public command surface. It is the fourth and
// largest domain component, wiring ring.Membership and pool.SocketPool
// together the way memcache.ShardedClient wires ShardManager and
// ClientShard together.
package engine

import (
	"time"

	"github.com/henrikschroder/beitmemcached/mcerr"
	"github.com/henrikschroder/beitmemcached/pool"
)

// Config configures a Client. The zero value is not valid; use
// DefaultConfig and override fields, or call Validate after filling in
// Addrs yourself.
type Config struct {
	// Addrs is the initial server list, each either "host" or "host:port";
	// a missing port defaults to 11211.
	Addrs []string

	// SendReceiveTimeout bounds both directions of every socket operation.
	SendReceiveTimeout time.Duration

	// MinPoolSize is the floor below which idle connections are never
	// recycled for age alone.
	MinPoolSize int

	// MaxPoolSize bounds the idle set per server on return.
	MaxPoolSize int

	// SocketRecycleAge is the maximum age an idle connection above
	// MinPoolSize may reach before it is destroyed on return.
	SocketRecycleAge time.Duration

	// DeadServerRetryInterval is how long a server stays in dead-backoff
	// after a failed connection attempt.
	DeadServerRetryInterval time.Duration

	// KeyPrefix is prepended to every key on the wire. It is excluded from
	// hashing, so changing it never reshards the keyspace.
	KeyPrefix string

	// Serializer converts Go values to and from the wire's opaque
	// bytes+flags representation. If nil, DefaultSerializer() is used.
	Serializer Serializer

	// LogError and LogInfo receive diagnostics for failures the client
	// otherwise absorbs and reports only as a sentinel return value. Either
	// may be nil; if both are nil, a dlog-backed default is wired in by
	// New.
	LogError func(error)
	LogInfo  func(...interface{})

	// Dial opens a connection to addr. If nil, pool.Options' own default
	// (net.DialTimeout over tcp) is used.
	Dial func(addr string) (pool.Conn, error)

	// NowFunc returns the current time; tests override it to control
	// recycle-age and dead-backoff timing deterministically.
	NowFunc func() time.Time
}

// DefaultConfig returns a Config over addrs with every tunable set to the
// documented default.
func DefaultConfig(addrs []string) Config {
	d := pool.DefaultOptions()
	return Config{
		Addrs:                   addrs,
		SendReceiveTimeout:      d.SendReceiveTimeout,
		MinPoolSize:             d.MinPoolSize,
		MaxPoolSize:             d.MaxPoolSize,
		SocketRecycleAge:        d.SocketRecycleAge,
		DeadServerRetryInterval: d.DeadServerRetryInterval,
	}
}

// Validate checks the configuration surface's invariants.
func (c Config) Validate() error {
	if len(c.Addrs) == 0 {
		return mcerr.NewConfiguration("engine: at least one server address is required")
	}
	if c.MinPoolSize < 0 {
		return mcerr.NewConfiguration("engine: MinPoolSize must be non-negative")
	}
	if c.MaxPoolSize < c.MinPoolSize {
		return mcerr.NewConfigurationf(
			"engine: MaxPoolSize (%d) must be >= MinPoolSize (%d)",
			c.MaxPoolSize, c.MinPoolSize)
	}
	if c.SendReceiveTimeout <= 0 {
		return mcerr.NewConfiguration("engine: SendReceiveTimeout must be positive")
	}
	if c.DeadServerRetryInterval <= 0 {
		return mcerr.NewConfiguration("engine: DeadServerRetryInterval must be positive")
	}
	return nil
}

func (c Config) poolOptions() pool.Options {
	return pool.Options{
		SendReceiveTimeout:      c.SendReceiveTimeout,
		MinPoolSize:             c.MinPoolSize,
		MaxPoolSize:             c.MaxPoolSize,
		SocketRecycleAge:        c.SocketRecycleAge,
		DeadServerRetryInterval: c.DeadServerRetryInterval,
		Dial:                    c.Dial,
		NowFunc:                 c.NowFunc,
	}
}

func (c Config) now() time.Time {
	if c.NowFunc == nil {
		return time.Now()
	}
	return c.NowFunc()
}
