package dlog

import (
	"log"
)

// Logger is the default error/info sink that engine.New wires in when a
// caller supplies neither LogError nor LogInfo. It writes through the buffered console
// writer above so high-frequency logging (e.g. one line per died-in-pool
// connection under load) does not serialize on a syscall per line.
type Logger struct {
	l *log.Logger
}

// NewLogger returns a Logger writing to the shared buffered console.
func NewLogger(prefix string) *Logger {
	return &Logger{l: log.New(&bufferedConsole, prefix, log.LstdFlags)}
}

// Error logs err at error severity. Matches the logError func(error) shape
// that ring.NewMembership and engine.Config accept.
func (lg *Logger) Error(err error) {
	if err == nil {
		return
	}
	lg.l.Print("ERROR: ", err)
}

// Info logs an informational line. Matches the logInfo func(...interface{})
// shape that ring.NewMembership and engine.Config accept.
func (lg *Logger) Info(v ...interface{}) {
	lg.l.Print(v...)
}
