// Package pool implements the per-server connection pool: a framed
// PooledConnection over a single TCP stream, and a SocketPool that bounds
// the idle set, tracks liveness, and backs off a dead server instead of
// reconnecting on every call. The locking discipline (no I/O under the
// pool mutex, a mutex-guarded active-handle counter, an Options struct for
// tunables) is grounded on the net2/resource_pool packages; the
// Dead/backoff/recycle-age/named-counter state machine itself has no
// analogue there and is a fresh implementation against the target
// semantics.
package pool

import (
	"time"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

// Options configures a SocketPool. The zero value is not valid; use
// DefaultOptions and override fields, or call Validate after filling in
// your own.
type Options struct {
	// SendReceiveTimeout bounds both directions of every socket operation.
	SendReceiveTimeout time.Duration

	// MinPoolSize is the floor below which idle connections are never
	// recycled for age alone.
	MinPoolSize int

	// MaxPoolSize bounds the idle set on return; acquisitions beyond this
	// are still allowed, they just will not be kept idle afterward.
	MaxPoolSize int

	// SocketRecycleAge is the maximum age an idle connection above
	// MinPoolSize may reach before it is destroyed on return instead of
	// being kept.
	SocketRecycleAge time.Duration

	// DeadServerRetryInterval is how long a pool stays Dead after a failed
	// connection attempt before the next Acquire is allowed to try again.
	DeadServerRetryInterval time.Duration

	// Dial opens a new connection to addr. If nil, net.DialTimeout against
	// "tcp" is used with SendReceiveTimeout as the connect timeout.
	Dial func(addr string) (Conn, error)

	// NowFunc returns the current time. If nil, time.Now is used. Tests
	// override this to control recycle-age and dead-server-retry timing
	// deterministically.
	NowFunc func() time.Time
}

// DefaultOptions returns the configuration surface's documented defaults.
func DefaultOptions() Options {
	return Options{
		SendReceiveTimeout:      2000 * time.Millisecond,
		MinPoolSize:             5,
		MaxPoolSize:             10,
		SocketRecycleAge:        30 * time.Minute,
		DeadServerRetryInterval: 10 * time.Second,
	}
}

// Validate checks the invariants the configuration surface requires,
// returning a Configuration error on violation.
func (o Options) Validate() error {
	if o.MinPoolSize < 0 {
		return mcerr.NewConfiguration("pool: MinPoolSize must be non-negative")
	}
	if o.MaxPoolSize < o.MinPoolSize {
		return mcerr.NewConfigurationf(
			"pool: MaxPoolSize (%d) must be >= MinPoolSize (%d)",
			o.MaxPoolSize, o.MinPoolSize)
	}
	if o.SendReceiveTimeout <= 0 {
		return mcerr.NewConfiguration("pool: SendReceiveTimeout must be positive")
	}
	if o.DeadServerRetryInterval <= 0 {
		return mcerr.NewConfiguration("pool: DeadServerRetryInterval must be positive")
	}
	return nil
}

func (o Options) now() time.Time {
	if o.NowFunc == nil {
		return time.Now()
	}
	return o.NowFunc()
}
