// Package tlog is the leveled logger used throughout thymos, matching the
// Printf-style InfoLog/WarningLog/ErrorLog convention the rest of the
// codebase is written against.
package tlog

import (
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	// InfoLog, WarningLog, and ErrorLog are package-level loggers. The
	// package's init wires them to stderr; Init rewires them to another
	// writer.
	InfoLog    *log.Logger
	WarningLog *log.Logger
	ErrorLog   *log.Logger
)

// Init wires the three level loggers to w with a shared prefix/flag set.
// Passing nil leaves the corresponding logger disabled.
func Init(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	InfoLog = log.New(w, "INFO  ", log.LstdFlags|log.Lmicroseconds)
	WarningLog = log.New(w, "WARN  ", log.LstdFlags|log.Lmicroseconds)
	ErrorLog = log.New(w, "ERROR ", log.LstdFlags|log.Lmicroseconds)
}

func init() {
	// Default to stderr so a binary embedding this package gets output
	// without having to remember to call Init.
	Init(os.Stderr)
}

// Every throttles repeated log lines to at most once per interval, for
// call sites that would otherwise flood the log (e.g. a retry loop).
type Every struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

// NewEvery returns an Every gate for the given interval.
func NewEvery(interval time.Duration) *Every {
	return &Every{interval: interval}
}

// ShouldLog reports whether the interval has elapsed since the last call
// that returned true, and if so advances the internal clock.
func (e *Every) ShouldLog(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Sub(e.last) < e.interval {
		return false
	}
	e.last = now
	return true
}
