package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"
)

// Logger is a deliberately small, framework-agnostic logging interface.
// Components depend on this, never on the concrete backend.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a child logger with persistent fields.
	With(fields ...Field) Logger
}

// Field is a simple key/value pair for structured logging fields.
type Field struct {
	Key   string
	Value any
}

// Options selects the apex/log handler and level.
type Options struct {
	// Component is attached to every entry as the "component" field.
	Component string
	// Level is one of debug, info, warn, error, fatal. Empty means info.
	Level string
	// Format is "json" (default) or "text".
	Format string
	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// ApexLogger implements Logger on top of github.com/apex/log.
type ApexLogger struct {
	entry *log.Entry
}

// New builds an ApexLogger from opts.
func New(opts Options) (*ApexLogger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	level := log.InfoLevel
	if opts.Level != "" {
		lv, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = lv
	}

	var handler log.Handler
	switch strings.ToLower(opts.Format) {
	case "", "json":
		handler = jsonhandler.New(w)
	case "text":
		handler = text.New(w)
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	base := &log.Logger{Handler: handler, Level: level}
	entry := log.NewEntry(base)
	if opts.Component != "" {
		entry = entry.WithField("component", opts.Component)
	}
	return &ApexLogger{entry: entry}, nil
}

// NewStdoutLogger returns a JSON logger writing to stdout at info level.
func NewStdoutLogger(component string) *ApexLogger {
	l, err := New(Options{Component: component})
	if err != nil {
		// defaults never fail to parse
		panic(err)
	}
	return l
}

func toFields(fields []Field) log.Fields {
	m := make(log.Fields, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

func (a *ApexLogger) Debug(msg string, fields ...Field) {
	a.entry.WithFields(toFields(fields)).Debug(msg)
}

func (a *ApexLogger) Info(msg string, fields ...Field) {
	a.entry.WithFields(toFields(fields)).Info(msg)
}

func (a *ApexLogger) Warn(msg string, fields ...Field) {
	a.entry.WithFields(toFields(fields)).Warn(msg)
}

func (a *ApexLogger) Error(msg string, fields ...Field) {
	a.entry.WithFields(toFields(fields)).Error(msg)
}

func (a *ApexLogger) With(fields ...Field) Logger {
	return &ApexLogger{entry: a.entry.WithFields(toFields(fields))}
}

// Err is shorthand for the "error" field used throughout the codebase.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}
