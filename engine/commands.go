package engine

import (
	"strconv"
	"strings"

	"github.com/henrikschroder/beitmemcached/mcerr"
	"github.com/henrikschroder/beitmemcached/pool"
)

// Get fetches a single key. It returns a non-nil error only for an
// InvalidKey violation, caught before any network activity; a miss, a
// dead server, or any transport/protocol failure all surface identically
// as a nil Item with a nil error, the failure itself having already been
// handed to the logging collaborator.
func (c *Client) Get(key string) (*Item, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	items := c.GetMulti([]string{key})
	return items[0], nil
}

// GetMulti fetches every key, grouping them by owning server so each
// server sees at most one batched "get" request. The result slice is
// positionally aligned with keys: an invalid key, a miss, or a failure
// all leave their slot nil.
func (c *Client) GetMulti(keys []string) []*Item {
	results := make([]*Item, len(keys))

	type batch struct {
		keys []string // wire keys (already prefixed), in request order
	}
	byAddr := make(map[string]*batch)
	order := []string{}

	// keyed by addr+"\x00"+wireKey, never the bare stripped key: two
	// different logical keys under different prefixes can collide once
	// stripped, but never on their verbatim wire form.
	wireToPositions := make(map[string][]int)

	for i, key := range keys {
		if err := validateKey(key); err != nil {
			c.logErr(err)
			continue
		}
		p, err := c.poolFor(key)
		if err != nil {
			c.logErr(err)
			continue
		}
		wk := wireKey(c.cfg.KeyPrefix, key)
		b, ok := byAddr[p.Addr()]
		if !ok {
			b = &batch{}
			byAddr[p.Addr()] = b
			order = append(order, p.Addr())
		}
		if _, seen := wireToPositions[p.Addr()+"\x00"+wk]; !seen {
			b.keys = append(b.keys, wk)
		}
		wireToPositions[p.Addr()+"\x00"+wk] = append(wireToPositions[p.Addr()+"\x00"+wk], i)
	}

	for _, addr := range order {
		b := byAddr[addr]
		c.mu.RLock()
		p := c.pools[addr]
		c.mu.RUnlock()
		if p == nil {
			continue
		}
		c.getBatch(p, b.keys, wireToPositions, addr, results)
	}

	return results
}

func (c *Client) getBatch(
	p *pool.SocketPool,
	wireKeys []string,
	positions map[string][]int,
	addr string,
	results []*Item,
) {
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return
	}
	defer conn.Release()

	parts := make([]string, 0, 2*len(wireKeys)+2)
	parts = append(parts, "get")
	for _, k := range wireKeys {
		parts = append(parts, " ", k)
	}
	parts = append(parts, "\r\n")
	if err := conn.WriteStrings(parts...); err != nil {
		c.logErr(err)
		return
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			c.logErr(err)
			return
		}
		if line == "END" {
			return
		}

		fields := strings.Split(line, " ")
		if len(fields) != 4 || fields[0] != "VALUE" {
			conn.MarkFaulted()
			c.logErr(mcerr.NewProtocolErrorf("engine: malformed VALUE line %q", line))
			return
		}

		replyKey, ok := stripPrefix(c.cfg.KeyPrefix, fields[1])
		if !ok {
			conn.MarkFaulted()
			c.logErr(mcerr.NewProtocolErrorf(
				"engine: server reply key %q missing configured prefix", fields[1]))
			return
		}

		flags64, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			conn.MarkFaulted()
			c.logErr(mcerr.NewProtocolErrorf("engine: malformed flags in %q", line))
			return
		}
		size, err := strconv.Atoi(fields[3])
		if err != nil || size < 0 {
			conn.MarkFaulted()
			c.logErr(mcerr.NewProtocolErrorf("engine: malformed length in %q", line))
			return
		}

		payload, err := conn.ReadExact(size)
		if err != nil {
			c.logErr(err)
			return
		}
		if err := conn.SkipLine(); err != nil {
			c.logErr(err)
			return
		}

		value, derr := c.serializer.Deserialize(payload, uint16(flags64))
		var item *Item
		if derr != nil {
			c.logErr(derr)
			item = nil
		} else {
			item = &Item{Key: replyKey, Value: value, Flags: uint16(flags64)}
		}

		for _, pos := range positions[addr+"\x00"+fields[1]] {
			results[pos] = item
		}
	}
}

// store implements set/add/replace encoding and STORED/NOT_STORED/EXISTS
// reply classification, shared by Set, Add and Replace.
func (c *Client) store(cmd string, item *Item) (bool, error) {
	if err := validateKey(item.Key); err != nil {
		return false, err
	}
	data, flags, err := c.serializer.Serialize(item.Value)
	if err != nil {
		c.logErr(err)
		return false, nil
	}

	p, err := c.poolFor(item.Key)
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	defer conn.Release()

	wk := wireKey(c.cfg.KeyPrefix, item.Key)
	err = conn.WriteStrings(
		cmd, " ", wk, " ",
		strconv.FormatUint(uint64(flags), 10), " ",
		strconv.FormatUint(uint64(item.Expiration), 10), " ",
		strconv.Itoa(len(data)), "\r\n",
		string(data), "\r\n")
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return false, nil
	}

	line, err := conn.ReadResponse()
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	if line == "STORED" {
		return true, nil
	}
	if line == "NOT_STORED" || line == "EXISTS" {
		c.logErr(mcerr.NewNotStored(item.Key))
	}
	return false, nil
}

// Set stores item unconditionally, creating it if absent.
func (c *Client) Set(item *Item) (bool, error) { return c.store("set", item) }

// Add stores item only if the key does not already exist.
func (c *Client) Add(item *Item) (bool, error) { return c.store("add", item) }

// Replace stores item only if the key already exists.
func (c *Client) Replace(item *Item) (bool, error) { return c.store("replace", item) }

// Delete removes key. It returns true iff the server reported DELETED.
func (c *Client) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	p, err := c.poolFor(key)
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	defer conn.Release()

	wk := wireKey(c.cfg.KeyPrefix, key)
	if err := conn.WriteStrings("delete ", wk, "\r\n"); err != nil {
		c.logErr(err)
		return false, nil
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return false, nil
	}
	line, err := conn.ReadResponse()
	if err != nil {
		c.logErr(err)
		return false, nil
	}
	if line == "DELETED" {
		return true, nil
	}
	if line == "NOT_FOUND" {
		c.logErr(mcerr.NewNotFound(key))
	}
	return false, nil
}

func (c *Client) count(cmd string, key string, delta uint64) (*uint64, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	p, err := c.poolFor(key)
	if err != nil {
		c.logErr(err)
		return nil, nil
	}
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return nil, nil
	}
	defer conn.Release()

	wk := wireKey(c.cfg.KeyPrefix, key)
	err = conn.WriteStrings(cmd, " ", wk, " ", strconv.FormatUint(delta, 10), "\r\n")
	if err != nil {
		c.logErr(err)
		return nil, nil
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return nil, nil
	}
	line, err := conn.ReadResponse()
	if err != nil {
		c.logErr(err)
		return nil, nil
	}
	if line == "NOT_FOUND" {
		c.logErr(mcerr.NewNotFound(key))
		return nil, nil
	}
	line = strings.TrimRight(line, "\x00")
	val, err := strconv.ParseUint(line, 10, 64)
	if err != nil {
		conn.MarkFaulted()
		c.logErr(mcerr.NewProtocolErrorf("engine: malformed counter reply %q", line))
		return nil, nil
	}
	return &val, nil
}

// Increment adds delta to the counter stored at key, returning the new
// value, or a nil value if the key does not exist.
func (c *Client) Increment(key string, delta uint64) (*uint64, error) {
	return c.count("incr", key, delta)
}

// Decrement subtracts delta from the counter stored at key. The server
// clamps the result to zero rather than going negative.
func (c *Client) Decrement(key string, delta uint64) (*uint64, error) {
	return c.count("decr", key, delta)
}

// SetCounter initializes key to value's decimal string form, so that
// subsequent Increment/Decrement calls against it succeed. Memcached's
// incr/decr only operate on values already shaped as ASCII decimal digits.
func (c *Client) SetCounter(key string, value uint64) (bool, error) {
	return c.Set(&Item{Key: key, Value: strconv.FormatUint(value, 10)})
}

// FlushAll invalidates every item on every server, returning true iff
// every server acknowledged with OK.
func (c *Client) FlushAll(expiration uint32) (bool, error) {
	ok := true
	for _, p := range c.allPools() {
		if !c.flushOne(p, expiration) {
			ok = false
		}
	}
	return ok, nil
}

func (c *Client) flushOne(p *pool.SocketPool, expiration uint32) bool {
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return false
	}
	defer conn.Release()

	err = conn.WriteStrings("flush_all ", strconv.FormatUint(uint64(expiration), 10), "\r\n")
	if err != nil {
		c.logErr(err)
		return false
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return false
	}
	line, err := conn.ReadResponse()
	if err != nil {
		c.logErr(err)
		return false
	}
	return line == "OK"
}

// Stats returns each server's stats table, keyed by server address.
func (c *Client) Stats() map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, p := range c.allPools() {
		entries, err := c.statsOne(p)
		if err != nil {
			c.logErr(err)
			continue
		}
		out[p.Addr()] = entries
	}
	return out
}

func (c *Client) statsOne(p *pool.SocketPool) (map[string]string, error) {
	conn, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	if err := conn.WriteStrings("stats\r\n"); err != nil {
		return nil, err
	}
	if err := conn.Flush(); err != nil {
		return nil, err
	}

	entries := make(map[string]string)
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return nil, err
		}
		if line == "END" {
			return entries, nil
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 || fields[0] != "STAT" {
			conn.MarkFaulted()
			return nil, mcerr.NewProtocolErrorf("engine: malformed STAT line %q", line)
		}
		entries[fields[1]] = fields[2]
	}
}

// Version returns each server's version string (the reply line with its
// "VERSION " prefix removed), keyed by address.
func (c *Client) Version() map[string]string {
	out := make(map[string]string)
	for _, p := range c.allPools() {
		v, err := c.versionOne(p)
		if err != nil {
			c.logErr(err)
			continue
		}
		out[p.Addr()] = v
	}
	return out
}

func (c *Client) versionOne(p *pool.SocketPool) (string, error) {
	conn, err := p.Acquire()
	if err != nil {
		return "", err
	}
	defer conn.Release()

	if err := conn.WriteStrings("version\r\n"); err != nil {
		return "", err
	}
	if err := conn.Flush(); err != nil {
		return "", err
	}
	line, err := conn.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "VERSION ") {
		conn.MarkFaulted()
		return "", mcerr.NewServerRejected(line)
	}
	return line[len("VERSION "):], nil
}

// Verbosity sets the server-side log verbosity level on every server,
// returning true iff every server acknowledged with OK.
func (c *Client) Verbosity(level uint32) (bool, error) {
	ok := true
	for _, p := range c.allPools() {
		if !c.verbosityOne(p, level) {
			ok = false
		}
	}
	return ok, nil
}

func (c *Client) verbosityOne(p *pool.SocketPool, level uint32) bool {
	conn, err := p.Acquire()
	if err != nil {
		c.logErr(err)
		return false
	}
	defer conn.Release()

	err = conn.WriteStrings("verbosity ", strconv.FormatUint(uint64(level), 10), "\r\n")
	if err != nil {
		c.logErr(err)
		return false
	}
	if err := conn.Flush(); err != nil {
		c.logErr(err)
		return false
	}
	line, err := conn.ReadResponse()
	if err != nil {
		c.logErr(err)
		return false
	}
	return line == "OK"
}
