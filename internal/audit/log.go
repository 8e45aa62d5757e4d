package audit

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Sink receives a copy of every audit line.
type Sink interface {
	WriteLine(line string) error
}

// Log serialises audit lines onto a writer and copies them to any mirrors.
// It is safe for concurrent use; each line is written with a single Write.
type Log struct {
	mu      sync.Mutex
	w       io.Writer
	format  Format
	mirrors []Sink
	logger  zerolog.Logger
}

// New creates an audit log writing to w.
func New(w io.Writer, format Format, logger zerolog.Logger, mirrors ...Sink) *Log {
	return &Log{
		w:       w,
		format:  format,
		mirrors: mirrors,
		logger:  logger.With().Str("layer", "audit").Logger(),
	}
}

// Format returns the line layout in use.
func (l *Log) Format() Format {
	return l.format
}

// Record emits the line for rec.
func (l *Log) Record(rec Record) {
	l.emit(Line(rec, l.format))
}

// Snapshot emits a queue snapshot line.
func (l *Log) Snapshot(ids []uint64) {
	l.emit(SnapshotLine(ids))
}

func (l *Log) emit(line string) {
	l.mu.Lock()
	_, err := io.WriteString(l.w, line+"\n")
	l.mu.Unlock()
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to write audit line")
	}

	for _, m := range l.mirrors {
		if err := m.WriteLine(line); err != nil {
			l.logger.Debug().Err(err).Msg("audit mirror rejected line")
		}
	}
}
