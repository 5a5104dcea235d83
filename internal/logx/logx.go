// Package logx provides the component-tagged logger used throughout the
// viewer core and its demo binaries.
package logx

import (
	"log"
	"os"
)

// debugEnabled mirrors the teacher's VIBETUNNEL_DEBUG gate: verbose logging
// is opt-in via environment variable, never a compile-time flag.
var debugEnabled = os.Getenv("BEACHTERM_DEBUG") != ""

// Logger tags every line with a bracketed component name, e.g. "[grid]".
type Logger struct {
	component string
}

// New returns a Logger tagging its output with the given component name.
func New(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) prefix() string {
	return "[" + l.component + "] "
}

// Printf logs unconditionally, like the teacher's log.Printf("[X] ...").
func (l *Logger) Printf(format string, args ...interface{}) {
	log.Printf(l.prefix()+format, args...)
}

// Debugf logs only when BEACHTERM_DEBUG is set.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	log.Printf(l.prefix()+"[DEBUG] "+format, args...)
}

// Warnf logs a warning-level line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	log.Printf(l.prefix()+"[WARN] "+format, args...)
}

// DebugEnabled reports whether debug logging is currently active.
func DebugEnabled() bool {
	return debugEnabled
}

// FrameTracer logs one debug line per frame, implementing wire.TraceSink
// structurally (logx deliberately does not import pkg/wire, to keep the
// ambient logging package dependency-free of the domain protocol).
type FrameTracer struct {
	*Logger
}

// NewFrameTracer returns a FrameTracer tagging its output with component.
func NewFrameTracer(component string) *FrameTracer {
	return &FrameTracer{Logger: New(component)}
}

// OnFrame implements wire.TraceSink.
func (t *FrameTracer) OnFrame(kind string, byteSize int) {
	t.Debugf("frame %s (%d bytes)", kind, byteSize)
}
