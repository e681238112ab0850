package engine

import (
	"expvar"
	"sync"

	"github.com/henrikschroder/beitmemcached/dlog"
	"github.com/henrikschroder/beitmemcached/mcerr"
	"github.com/henrikschroder/beitmemcached/pool"
	"github.com/henrikschroder/beitmemcached/ring"
)

// expvar publication for per-server pool counters, grounded on
// sharded_client.go's getOkByAddr/getErrByAddr maps: one expvar.Map per
// counter, keyed by server address, so operational dashboards that already
// scrape /debug/vars pick this library up for free.
var (
	expvarNewSockets    = expvar.NewMap("beitmemcached_new_sockets")
	expvarFailedNewSock = expvar.NewMap("beitmemcached_failed_new_sockets")
	expvarReused        = expvar.NewMap("beitmemcached_reused_sockets")
	expvarDiedInPool    = expvar.NewMap("beitmemcached_died_in_pool")
	expvarDiedOnReturn  = expvar.NewMap("beitmemcached_died_on_return")
	expvarDirtyOnReturn = expvar.NewMap("beitmemcached_dirty_on_return")
)

// Client is the top-level collaborator: it owns the hash ring, one
// SocketPool per server, and the serializer/prefix/logging configuration
// applied to every command. It has no background goroutines; every
// operation is synchronous and blocking on the calling goroutine, mirroring
// ShardedClient's own concurrency story.
type Client struct {
	cfg        Config
	membership *ring.Membership
	serializer Serializer

	mu    sync.RWMutex
	pools map[string]*pool.SocketPool // keyed by normalized addr, guarded by mu

	logError func(error)
	logInfo  func(...interface{})
}

// New constructs a Client against cfg.Addrs. Construction fails only on a
// Configuration violation; individual servers being unreachable is not a
// construction-time failure -- their pools start Alive and empty, and the
// first Acquire against them attempts a connect.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addrs := make([]string, len(cfg.Addrs))
	for i, a := range cfg.Addrs {
		addrs[i] = normalizeAddr(a)
	}

	logError := cfg.LogError
	logInfo := cfg.LogInfo
	if logError == nil && logInfo == nil {
		l := dlog.NewLogger("beitmemcached")
		logError = l.Error
		logInfo = l.Info
	}

	membership, err := ring.NewMembership(addrs, logError, logInfo)
	if err != nil {
		return nil, err
	}

	serializer := cfg.Serializer
	if serializer == nil {
		serializer = DefaultSerializer()
	}

	c := &Client{
		cfg:        cfg,
		membership: membership,
		serializer: serializer,
		pools:      make(map[string]*pool.SocketPool, len(addrs)),
		logError:   logError,
		logInfo:    logInfo,
	}

	for _, addr := range addrs {
		p, err := pool.NewSocketPool(addr, cfg.poolOptions())
		if err != nil {
			return nil, err
		}
		c.pools[addr] = p
	}
	return c, nil
}

// UpdateServers evolves the cluster's membership at runtime: servers
// present in addrs but not currently known get a fresh SocketPool; servers
// no longer present have their SocketPool closed and removed. Servers
// present in both are left entirely alone, including their idle
// connections.
func (c *Client) UpdateServers(addrs []string) error {
	normalized := make([]string, len(addrs))
	for i, a := range addrs {
		normalized[i] = normalizeAddr(a)
	}

	added, removed, err := c.membership.Update(normalized)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, addr := range added {
		p, err := pool.NewSocketPool(addr, c.cfg.poolOptions())
		if err != nil {
			if c.logError != nil {
				c.logError(err)
			}
			continue
		}
		c.pools[addr] = p
	}
	for _, addr := range removed {
		if p, ok := c.pools[addr]; ok {
			p.Close()
			delete(c.pools, addr)
		}
	}
	return nil
}

func (c *Client) poolFor(key string) (*pool.SocketPool, error) {
	addr := c.membership.Ring().LookupKey(key)
	c.mu.RLock()
	p, ok := c.pools[addr]
	c.mu.RUnlock()
	if !ok {
		return nil, mcerr.WrapTransport(errNoPool, "engine: no pool for "+addr)
	}
	return p, nil
}

func (c *Client) allPools() []*pool.SocketPool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pools := make([]*pool.SocketPool, 0, len(c.pools))
	for _, p := range c.pools {
		pools = append(pools, p)
	}
	return pools
}

func (c *Client) logErr(err error) {
	if err != nil && c.logError != nil {
		c.logError(err)
	}
}

// Status reports a point-in-time snapshot of every server's connection
// pool, keyed by server address. Reachability is determined by a no-op
// acquire/release round trip against each pool rather than by inspecting
// counters alone: the probe reuses Acquire's own dead-backoff check, so a
// Status call can never itself be the thing that prematurely wakes up a
// server still inside its retry window.
func (c *Client) Status() map[string]PoolStatus {
	c.mu.RLock()
	pools := make([]*pool.SocketPool, 0, len(c.pools))
	for _, p := range c.pools {
		pools = append(pools, p)
	}
	c.mu.RUnlock()

	out := make(map[string]PoolStatus, len(pools))
	for _, p := range pools {
		reachable := false
		if conn, err := p.Acquire(); err == nil {
			reachable = true
			conn.Release()
		}

		stats := p.Stats()
		publishCounter(expvarNewSockets, p.Addr(), stats.NewSockets)
		publishCounter(expvarFailedNewSock, p.Addr(), stats.FailedNewSocket)
		publishCounter(expvarReused, p.Addr(), stats.Reused)
		publishCounter(expvarDiedInPool, p.Addr(), stats.DiedInPool)
		publishCounter(expvarDiedOnReturn, p.Addr(), stats.DiedOnReturn)
		publishCounter(expvarDirtyOnReturn, p.Addr(), stats.DirtyOnReturn)

		out[p.Addr()] = PoolStatus{
			Addr:          p.Addr(),
			Idle:          p.NumIdle(),
			Acquired:      p.NumActive(),
			NewSockets:    stats.NewSockets,
			FailedNew:     stats.FailedNewSocket,
			Reused:        stats.Reused,
			DiedInPool:    stats.DiedInPool,
			DiedOnReturn:  stats.DiedOnReturn,
			DirtyOnReturn: stats.DirtyOnReturn,
			Dead:          p.IsDead(),
			Reachable:     reachable,
		}
	}
	return out
}

func publishCounter(m *expvar.Map, addr string, v uint64) {
	iv := new(expvar.Int)
	iv.Set(int64(v))
	m.Set(addr, iv)
}

type noPoolError struct{}

func (noPoolError) Error() string { return "no connection pool for this server" }

var errNoPool = noPoolError{}
