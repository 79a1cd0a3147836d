// Package corelog provides the bracket-tagged logging convention used
// across the agent core, matching the "[MIGRATION] ..." / "[QUEUE] ..."
// style already used ad hoc in the memory and supervisor packages.
package corelog

import (
	"log"
	"os"
)

// Logger wraps the standard library logger with a fixed component tag.
type Logger struct {
	tag    string
	stdlib *log.Logger
}

// New returns a Logger that prefixes every line with "[tag] ".
func New(tag string) *Logger {
	return &Logger{
		tag:    tag,
		stdlib: log.New(os.Stdout, "", log.LstdFlags),
	}
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.stdlib.Printf("[%s] "+format, prepend(l.tag, args)...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.stdlib.Printf("[%s][WARN] "+format, prepend(l.tag, args)...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.stdlib.Printf("[%s][ERROR] "+format, prepend(l.tag, args)...)
}

func prepend(tag string, args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, tag)
	out = append(out, args...)
	return out
}
