// Package logging builds the process logger and mirrors its records into
// the state store's diagnostic log.
package logging

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a production logger writing JSON to stderr at level.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Sink receives diagnostic log lines. *store.Store implements it.
type Sink interface {
	AppendLog(level, message string) error
}

// WithSink returns a logger that also writes info and above to sink.
// The sink must not log through the returned logger.
func WithSink(base *zap.Logger, sink Sink) *zap.Logger {
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, NewSinkCore(sink, zapcore.InfoLevel))
	}))
}

// sinkCore is a zapcore.Core that renders each entry as a single line.
type sinkCore struct {
	zapcore.LevelEnabler
	sink   Sink
	fields []zapcore.Field
}

// NewSinkCore creates a core that forwards entries at or above enab.
func NewSinkCore(sink Sink, enab zapcore.LevelEnabler) zapcore.Core {
	return &sinkCore{LevelEnabler: enab, sink: sink}
}

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(slices.Clone(c.fields), fields...)
	return &clone
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	delete(enc.Fields, "stack")

	var sb strings.Builder
	sb.WriteString(ent.Message)
	for _, k := range slices.Sorted(maps.Keys(enc.Fields)) {
		fmt.Fprintf(&sb, " %s=%v", k, enc.Fields[k])
	}
	return c.sink.AppendLog(levelName(ent.Level), sb.String())
}

func (c *sinkCore) Sync() error { return nil }

// levelName maps zap levels onto the diagnostic log's info/warn/error.
func levelName(l zapcore.Level) string {
	switch {
	case l >= zapcore.ErrorLevel:
		return "error"
	case l == zapcore.WarnLevel:
		return "warn"
	default:
		return "info"
	}
}
