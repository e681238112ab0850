package pool

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePair returns two ends of an in-memory, synchronously connected pipe:
// client is wrapped as the pool.Conn under test, server is driven directly
// by the test to script replies, mirroring the fake-conn technique used to
// test a text-protocol codec without a live server.
func fakePair(t *testing.T) (client Conn, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	return c, s
}

func newTestConn(t *testing.T, client Conn) *PooledConnection {
	t.Helper()
	return newPooledConnection(client, "test:11211", time.Second, time.Now, nil, time.Now())
}

func TestWriteAndReadLine(t *testing.T) {
	client, server := fakePair(t)
	defer server.Close()
	conn := newTestConn(t, client)

	go func() {
		buf := make([]byte, 64)
		_, _ = server.Read(buf)
		_, _ = server.Write([]byte("STORED\r\n"))
	}()

	require.NoError(t, conn.Write([]byte("set foo 0 0 3\r\nbar\r\n")))
	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "STORED", line)
}

func TestReadLineTreatsBareCRAsData(t *testing.T) {
	client, server := fakePair(t)
	defer server.Close()
	conn := newTestConn(t, client)

	go func() { _, _ = server.Write([]byte("a\rb\r\n")) }()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a\rb", line)
}

func TestReadExact(t *testing.T) {
	client, server := fakePair(t)
	defer server.Close()
	conn := newTestConn(t, client)

	go func() { _, _ = server.Write([]byte("hello")) }()

	b, err := conn.ReadExact(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestReadResponseClassifiesServerRejected(t *testing.T) {
	for _, line := range []string{"ERROR", "CLIENT_ERROR bad command", "SERVER_ERROR out of memory"} {
		client, server := fakePair(t)
		conn := newTestConn(t, client)
		go func(l string) { _, _ = server.Write([]byte(l + "\r\n")) }(line)

		_, err := conn.ReadResponse()
		assert.Error(t, err, "ReadResponse() for %q", line)
		server.Close()
	}
}

func TestReadResponseEmptyLineIsProtocolError(t *testing.T) {
	client, server := fakePair(t)
	defer server.Close()
	conn := newTestConn(t, client)

	go func() { _, _ = server.Write([]byte("\r\n")) }()

	_, err := conn.ReadResponse()
	assert.Error(t, err)
}

func TestCloseIsIdempotentAndMarksUnusable(t *testing.T) {
	client, server := fakePair(t)
	defer server.Close()
	conn := newTestConn(t, client)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "second Close() should be a no-op")
	assert.False(t, conn.isUsable())
}
