// Package dlog provides a small buffered console writer and a default
// logger built on it. The ring and pool packages never import this package
// -- ring.NewMembership accepts injected logError/logInfo callbacks, and
// pool takes none -- while engine.New wires a dlog.Logger in as the default
// collaborator when a caller supplies neither callback, so the library is
// useful standalone.
package dlog

// Wrap the console implementation to buffer writes, yet flush in a timely,
// deterministic fashion, either buffering up to n bytes or for up to t
// milliseconds, whichever comes first.

import (
	"bufio"
	"flag"
	"io"
	"os"
	"sync"
	"time"
)

type bufferedConsoleT struct {
	mu               sync.Mutex
	wr               io.Writer
	bufferSize       int
	maxFlushInterval time.Duration
	baseWr           io.Writer
}

// The default console is assumed to be os.Stderr, but tests can override.
var bufferedConsole = bufferedConsoleT{baseWr: os.Stderr}

func init() {
	flag.IntVar(&bufferedConsole.bufferSize, "dlog.console-buffer-size", 0,
		"Set the size for the console log buffer.")
	flag.DurationVar(&bufferedConsole.maxFlushInterval, "dlog.console-buffer-max-flush-interval",
		0,
		"Set the maximum time between console flushes if console-buffer-size is non-zero. If the buffer size is exceeded, the console may flush more often than this interval.")
}

func (cb *bufferedConsoleT) Flush() error {
	type flusher interface {
		Flush() error
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if fwr, ok := cb.wr.(flusher); ok {
		return fwr.Flush()
	}
	return nil
}

func (cb *bufferedConsoleT) flushDaemon() {
	if cb.maxFlushInterval > 0 {
		for range time.Tick(cb.maxFlushInterval) {
			_ = cb.Flush()
		}
	}
}

func (cb *bufferedConsoleT) Write(b []byte) (n int, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.wr == nil {
		if cb.bufferSize > 0 {
			cb.wr = bufio.NewWriterSize(cb.baseWr, cb.bufferSize)
			go cb.flushDaemon()
		} else {
			// If logging is invoked before flags are parsed, this slower
			// path must exist since there is no notification that flags
			// have been parsed.
			return cb.baseWr.Write(b)
		}
	}
	return cb.wr.Write(b)
}

// Flush forces the default console writer to flush any buffered bytes.
func Flush() error {
	return bufferedConsole.Flush()
}
