package pool

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/henrikschroder/beitmemcached/mcerr"
)

// Conn is the subset of net.Conn a dialed connection must satisfy. It is
// exported so tests can substitute an in-memory pipe instead of a real TCP
// socket, grounded on the fake-conn technique protocol
// tests use (an io.ReadWriter standing in for a socket).
type Conn interface {
	net.Conn
}

// deadlineConn applies a fixed timeout to every Read and Write by setting
// the corresponding deadline immediately before the underlying syscall,
// mirroring net2.ManagedConnImpl's approach of managing deadlines centrally
// from pool configuration rather than letting callers set them directly.
type deadlineConn struct {
	Conn
	timeout time.Duration
	now     func() time.Time
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(c.now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(c.now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}

type halfCloser interface {
	CloseRead() error
	CloseWrite() error
}

// PooledConnection is a single leased connection: a framed reader/writer
// over one TCP stream plus the bookkeeping a SocketPool needs to decide
// whether to keep it idle or discard it on return. Its read_line/read_exact/
// write vocabulary is grounded on raw_ascii_client.go's readLine/read/
// writeStrings/flushWriter helpers; the explicit faulted/explicitlyClosed
// state and the back-reference to the owning pool are a fresh addition
// implementing the lease-scope contract the connection pool design calls
// for (every exit path from a lease ends in exactly one Release call).
type PooledConnection struct {
	raw     Conn
	dc      *deadlineConn
	reader  *bufio.Reader
	writer  *bufio.Writer
	addr    string
	pool    *SocketPool
	created time.Time

	explicitlyClosed bool
	faulted          bool
}

func newPooledConnection(raw Conn, addr string, timeout time.Duration, now func() time.Time, p *SocketPool, created time.Time) *PooledConnection {
	dc := &deadlineConn{Conn: raw, timeout: timeout, now: now}
	return &PooledConnection{
		raw:     raw,
		dc:      dc,
		reader:  bufio.NewReader(dc),
		writer:  bufio.NewWriter(dc),
		addr:    addr,
		pool:    p,
		created: created,
	}
}

// Addr returns the server address this connection is bound to.
func (c *PooledConnection) Addr() string { return c.addr }

// Write sends b and flushes immediately; commands are small enough that
// batching writes across multiple calls before a single Flush (as
// WriteStrings does) is only worth it for multi-piece command lines.
func (c *PooledConnection) Write(b []byte) error {
	if _, err := c.writer.Write(b); err != nil {
		c.faulted = true
		return mcerr.WrapTransport(err, "pool: write failed")
	}
	return c.Flush()
}

// WriteStrings writes each string without flushing, so a command line built
// from several pieces (command, key, flags, length) costs one syscall
// instead of one per piece. Grounded on raw_ascii_client.go's writeStrings.
func (c *PooledConnection) WriteStrings(strs ...string) error {
	for _, s := range strs {
		if _, err := c.writer.WriteString(s); err != nil {
			c.faulted = true
			return mcerr.WrapTransport(err, "pool: write failed")
		}
	}
	return nil
}

// Flush pushes any buffered writes to the socket.
func (c *PooledConnection) Flush() error {
	if err := c.writer.Flush(); err != nil {
		c.faulted = true
		return mcerr.WrapTransport(err, "pool: flush failed")
	}
	return nil
}

// ReadLine reads up to and including a terminating CRLF, returning the line
// without the terminator. A bare LF also ends the line. A bare CR not
// followed by LF is not treated as a terminator: it is kept as data and the
// read continues.
func (c *PooledConnection) ReadLine() (string, error) {
	var buf []byte
	for {
		b, err := c.reader.ReadByte()
		if err != nil {
			c.faulted = true
			return "", mcerr.WrapTransport(err, "pool: read_line failed")
		}
		switch b {
		case '\r':
			if next, perr := c.reader.Peek(1); perr == nil && len(next) == 1 && next[0] == '\n' {
				_, _ = c.reader.ReadByte()
				return string(buf), nil
			}
			buf = append(buf, b)
		case '\n':
			return string(buf), nil
		default:
			buf = append(buf, b)
		}
	}
}

// ReadExact reads exactly n bytes, used for the payload that follows a
// VALUE line once its declared length is known.
func (c *PooledConnection) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		c.faulted = true
		return nil, mcerr.WrapTransport(err, "pool: read_exact failed")
	}
	return buf, nil
}

// SkipLine discards the next line, used to consume the CRLF that follows a
// payload.
func (c *PooledConnection) SkipLine() error {
	_, err := c.ReadLine()
	return err
}

// ReadResponse reads one status line and classifies it: an empty line is a
// protocol violation, and the server's own error prefixes are reported as
// ServerRejected rather than as a transport failure.
func (c *PooledConnection) ReadResponse() (string, error) {
	line, err := c.ReadLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		c.faulted = true
		return "", mcerr.NewProtocolError("pool: empty response line")
	}
	switch {
	case line == "ERROR" || hasPrefix(line, "CLIENT_ERROR ") || hasPrefix(line, "SERVER_ERROR "):
		return line, mcerr.NewServerRejected(line)
	}
	return line, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// MarkFaulted flags the connection as protocol-desynced even when the
// transport itself returned no error, e.g. a VALUE line whose declared
// length could not be parsed. A faulted connection is discarded on Release
// rather than returned to the idle set.
func (c *PooledConnection) MarkFaulted() { c.faulted = true }

func (c *PooledConnection) isUsable() bool {
	return !c.explicitlyClosed && !c.faulted
}

// HasPendingInput reports whether there are bytes sitting unread, either
// already inside the buffered reader or waiting on the socket. A connection
// with pending input after a command's response has been fully read has
// desynced from the protocol and must not be reused.
//
// The socket-level check reads from raw directly rather than through
// c.reader: c.reader wraps dc, and dc.Read would overwrite the short
// deadline set below with the connection's normal SendReceiveTimeout
// before this call ever reaches the socket. The deadline lies just ahead
// rather than in the past, since a read whose deadline has already passed
// times out without looking at the socket at all.
func (c *PooledConnection) HasPendingInput() bool {
	if c.reader.Buffered() > 0 {
		return true
	}
	_ = c.raw.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.raw.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	n, _ := c.raw.Read(one)
	return n > 0
}

// IsAlive reports whether the connection still looks connected and quiet.
// It is only meaningful between commands, when no response is pending: a
// live, idle connection will time out on a one-byte read with a 1ms
// deadline, while a closed
// one reports EOF and a connection that unexpectedly has data waiting is
// treated as desynced.
func (c *PooledConnection) IsAlive() bool {
	if !c.isUsable() {
		return false
	}
	if c.reader.Buffered() > 0 {
		return false
	}
	_ = c.raw.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.raw.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	n, err := c.raw.Read(one)
	if n > 0 {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// Close shuts down both directions of the stream and marks the connection
// explicitly closed, so a subsequent Release discards it instead of
// returning it to the idle set. Errors from the underlying shutdown are
// swallowed: a caller closing a connection it suspects is already broken
// does not need to hear about it twice.
func (c *PooledConnection) Close() error {
	if c.explicitlyClosed {
		return nil
	}
	c.explicitlyClosed = true
	if hc, ok := c.raw.(halfCloser); ok {
		_ = hc.CloseWrite()
		_ = hc.CloseRead()
	}
	_ = c.raw.Close()
	return nil
}

// Release ends the lease, handing the connection back to its owning pool.
// Every acquired *PooledConnection must have exactly one Release call on
// every exit path; callers that detected a protocol problem should call
// Close first so Release discards rather than recycles it.
func (c *PooledConnection) Release() {
	if c.pool != nil {
		c.pool.release(c)
	}
}
