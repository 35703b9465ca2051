package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ShayCichocki/explainit/internal/events"
)

// SessionLogger writes a session's debug log and mirrors every entry onto the
// session bus as a log event.
type SessionLogger struct {
	*zap.Logger
	file *os.File
}

// NewSessionLogger creates a logger appending to logPath and publishing to bus.
// Entries are also sent to base when it is not nil. If the log file cannot be
// opened the logger still publishes to the bus.
func NewSessionLogger(logPath string, bus *events.Bus, base *zap.Logger) *SessionLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{newBusCore(bus, zapcore.InfoLevel)}
	if base != nil {
		cores = append(cores, base.Core())
	}

	var file *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err == nil {
			f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				file = f
				cores = append(cores, zapcore.NewCore(
					zapcore.NewConsoleEncoder(encCfg),
					zapcore.AddSync(f),
					zapcore.DebugLevel,
				))
			}
		}
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.ErrorOutput(zapcore.AddSync(io.Discard)))
	return &SessionLogger{Logger: logger, file: file}
}

// Close flushes and closes the debug log file.
func (l *SessionLogger) Close() error {
	_ = l.Logger.Sync()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// busCore publishes log entries as events.LogPayload.
type busCore struct {
	zapcore.LevelEnabler
	bus    *events.Bus
	fields []zapcore.Field
}

func newBusCore(bus *events.Bus, level zapcore.LevelEnabler) zapcore.Core {
	return &busCore{LevelEnabler: level, bus: bus}
}

func (c *busCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *busCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *busCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if c.bus == nil {
		return nil
	}
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	c.bus.Log(ent.Level.String(), formatEntry(ent.Message, all))
	return nil
}

func (c *busCore) Sync() error { return nil }

// formatEntry renders a message followed by sorted key=value fields.
func formatEntry(msg string, fields []zapcore.Field) string {
	if len(fields) == 0 {
		return msg
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, enc.Fields[k])
	}
	return b.String()
}
