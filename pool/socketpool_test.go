package pool

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(server net.Conn) {
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			if _, err := server.Write(buf[:n]); err != nil {
				return
			}
		}
	}()
}

func dialPipe() (Conn, net.Conn) {
	c, s := net.Pipe()
	return c, s
}

func TestAcquireDialsAndReuses(t *testing.T) {
	var servers []net.Conn
	opts := DefaultOptions()
	opts.Dial = func(addr string) (Conn, error) {
		c, s := dialPipe()
		echoServer(s)
		servers = append(servers, s)
		return c, nil
	}

	p, err := NewSocketPool("test:11211", opts)
	require.NoError(t, err)

	conn, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, p.NumActive())
	conn.Release()
	assert.Equal(t, 0, p.NumActive())
	assert.Equal(t, 1, p.NumIdle())

	conn2, err := p.Acquire()
	require.NoError(t, err)
	conn2.Release()

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.NewSockets)
	assert.EqualValues(t, 1, stats.Reused)

	for _, s := range servers {
		s.Close()
	}
}

func TestFailedDialEntersDeadBackoff(t *testing.T) {
	now := time.Now()
	dialAttempts := 0
	opts := DefaultOptions()
	opts.DeadServerRetryInterval = 10 * time.Second
	opts.NowFunc = func() time.Time { return now }
	opts.Dial = func(addr string) (Conn, error) {
		dialAttempts++
		return nil, errors.New("connection refused")
	}

	p, err := NewSocketPool("dead:11211", opts)
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.Error(t, err)
	assert.Equal(t, 1, dialAttempts)

	// Within the backoff window: no further dial attempts.
	for i := 0; i < 10; i++ {
		_, err := p.Acquire()
		assert.Error(t, err)
	}
	assert.Equal(t, 1, dialAttempts, "no retry attempted inside the backoff window")

	// Advance past the backoff window: exactly one retry attempt fires.
	now = now.Add(11 * time.Second)
	_, err = p.Acquire()
	assert.Error(t, err, "the retry dial fails too, since the fake Dial always fails")
	assert.Equal(t, 2, dialAttempts)
}

func TestReleaseDiscardsExplicitlyClosedConnection(t *testing.T) {
	opts := DefaultOptions()
	opts.Dial = func(addr string) (Conn, error) {
		c, s := dialPipe()
		echoServer(s)
		return c, nil
	}
	p, err := NewSocketPool("test:11211", opts)
	require.NoError(t, err)

	conn, err := p.Acquire()
	require.NoError(t, err)
	_ = conn.Close()
	conn.Release()

	assert.Equal(t, 0, p.NumIdle())
	// A connection the caller closed before Release counts as died on
	// return, the same as one marked faulted.
	assert.EqualValues(t, 1, p.Stats().DiedOnReturn)
}

func TestReleaseEnforcesMaxPoolSize(t *testing.T) {
	opts := DefaultOptions()
	opts.MinPoolSize = 0
	opts.MaxPoolSize = 1
	opts.Dial = func(addr string) (Conn, error) {
		c, s := dialPipe()
		echoServer(s)
		return c, nil
	}
	p, err := NewSocketPool("test:11211", opts)
	require.NoError(t, err)

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	a.Release()
	b.Release()

	assert.Equal(t, 1, p.NumIdle(), "idle set bounded by MaxPoolSize")
}

func TestReleaseRecyclesAgedConnectionAboveMinPoolSize(t *testing.T) {
	now := time.Now()
	opts := DefaultOptions()
	opts.MinPoolSize = 0
	opts.MaxPoolSize = 5
	opts.SocketRecycleAge = time.Minute
	opts.NowFunc = func() time.Time { return now }
	opts.Dial = func(addr string) (Conn, error) {
		c, s := dialPipe()
		echoServer(s)
		return c, nil
	}
	p, err := NewSocketPool("test:11211", opts)
	require.NoError(t, err)

	conn, err := p.Acquire()
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	conn.Release()

	assert.Equal(t, 0, p.NumIdle(), "connection older than SocketRecycleAge must not be kept idle")
}
