package diag

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Logger wraps log/slog fanned out through slog-multi: a human
// handler on stderr always, and a JSON handler on a trace file when
// one is configured. codegen.Lower logs one structured event per
// function it lowers; SectionEmitted is available for per-section
// events, but the compile pipeline does not call it.
type Logger struct {
	*slog.Logger
	traceFile *os.File
}

// NewLogger builds the default stderr-only logger.
func NewLogger() *Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{Logger: slog.New(h)}
}

// NewLoggerWithTrace additionally fans every record out to a JSON
// trace file at tracePath.
func NewLoggerWithTrace(tracePath string) (*Logger, error) {
	f, err := os.Create(tracePath)
	if err != nil {
		return nil, err
	}
	human := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	trace := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})

	fanout := slogmulti.Fanout(human, trace)
	return &Logger{Logger: slog.New(fanout), traceFile: f}, nil
}

func (l *Logger) Close() error {
	if l.traceFile == nil {
		return nil
	}
	return l.traceFile.Close()
}

// DeclLowered logs one compiled top-level declaration.
func (l *Logger) DeclLowered(kind, name string) {
	l.Debug("lowered declaration", "kind", kind, "name", name)
}

// SectionEmitted logs one section the object writer produced.
func (l *Logger) SectionEmitted(name string, size int) {
	l.Debug("emitted section", "section", name, "bytes", size)
}

var _ io.Closer = (*Logger)(nil)
