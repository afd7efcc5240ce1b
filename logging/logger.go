package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crytic/hydra/logging/colors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// GlobalLogger describes a Logger that is disabled by default and is configured when the CLI or a fuzzer starts.
// Each package derives its own sub-logger from it so log lines can be filtered by the `module` field.
var GlobalLogger = NewLogger(zerolog.Disabled)

// LogFormat describes the format a writer should receive log output in.
type LogFormat string

const (
	// STRUCTURED describes JSON formatted log output.
	STRUCTURED LogFormat = "structured"
	// UNSTRUCTURED describes human-readable log output.
	UNSTRUCTURED LogFormat = "unstructured"
)

// StructuredLogInfo describes a key-value mapping attached to a single log event.
type StructuredLogInfo map[string]any

// Logger fans log events out to any number of structured, unstructured and colorized unstructured writers.
type Logger struct {
	// level describes the minimum level an event must have to be emitted.
	level zerolog.Level

	// context describes key-value pairs attached to every event emitted by this logger.
	context []contextField

	// structuredWriters receive JSON log events.
	structuredWriters []io.Writer
	// unstructuredWriters receive human-readable events without ANSI colors.
	unstructuredWriters []io.Writer
	// unstructuredColorWriters receive human-readable events with ANSI colors.
	unstructuredColorWriters []io.Writer

	// structuredLogger, unstructuredLogger and unstructuredColorLogger are rebuilt whenever the writer sets change.
	structuredLogger        zerolog.Logger
	unstructuredLogger      zerolog.Logger
	unstructuredColorLogger zerolog.Logger
}

// contextField is a single key-value pair attached by NewSubLogger.
type contextField struct {
	key   string
	value string
}

// NewLogger creates a Logger at the given level with no writers attached.
func NewLogger(level zerolog.Level) *Logger {
	l := &Logger{
		level:                    level,
		context:                  make([]contextField, 0),
		structuredWriters:        make([]io.Writer, 0),
		unstructuredWriters:      make([]io.Writer, 0),
		unstructuredColorWriters: make([]io.Writer, 0),
	}
	l.rebuild()
	return l
}

// NewSubLogger creates a Logger sharing this logger's writers and level, which tags every event with the provided
// key-value pair. It is expected that each package creates one with the "module" key.
func (l *Logger) NewSubLogger(key string, value string) *Logger {
	sub := &Logger{
		level:                    l.level,
		context:                  append(slices.Clone(l.context), contextField{key: key, value: value}),
		structuredWriters:        slices.Clone(l.structuredWriters),
		unstructuredWriters:      slices.Clone(l.unstructuredWriters),
		unstructuredColorWriters: slices.Clone(l.unstructuredColorWriters),
	}
	sub.rebuild()
	return sub
}

// AddWriter adds a writer receiving events in the given format. The colored flag only applies to UNSTRUCTURED
// output. Adding a writer which is already registered for the same output is a no-op.
func (l *Logger) AddWriter(writer io.Writer, format LogFormat, colored bool) {
	target := l.writerSet(format, colored)
	if slices.Contains(*target, writer) {
		return
	}
	*target = append(*target, writer)
	l.rebuild()
}

// RemoveWriter removes a writer from the given output. Removing an unknown writer is a no-op.
func (l *Logger) RemoveWriter(writer io.Writer, format LogFormat, colored bool) {
	target := l.writerSet(format, colored)
	if idx := slices.Index(*target, writer); idx >= 0 {
		*target = slices.Delete(*target, idx, idx+1)
		l.rebuild()
	}
}

// writerSet returns the writer list for the given output type.
func (l *Logger) writerSet(format LogFormat, colored bool) *[]io.Writer {
	if format == STRUCTURED {
		return &l.structuredWriters
	}
	if colored {
		return &l.unstructuredColorWriters
	}
	return &l.unstructuredWriters
}

// Level returns the current log level.
func (l *Logger) Level() zerolog.Level {
	return l.level
}

// SetLevel updates the log level of this logger.
func (l *Logger) SetLevel(level zerolog.Level) {
	l.level = level
	l.rebuild()
}

// rebuild recreates the underlying zerolog loggers from the current writer sets, level and context.
func (l *Logger) rebuild() {
	l.structuredLogger = l.newZerolog(l.structuredWriters, func(w io.Writer) io.Writer { return w }, true)
	l.unstructuredLogger = l.newZerolog(l.unstructuredWriters, func(w io.Writer) io.Writer {
		return formatConsoleWriter(zerolog.ConsoleWriter{Out: w, NoColor: true}, l.level)
	}, false)
	l.unstructuredColorLogger = l.newZerolog(l.unstructuredColorWriters, func(w io.Writer) io.Writer {
		return formatConsoleWriter(zerolog.ConsoleWriter{Out: w, NoColor: !colors.Enabled()}, l.level)
	}, false)
}

func (l *Logger) newZerolog(writers []io.Writer, wrap func(io.Writer) io.Writer, timestamps bool) zerolog.Logger {
	if len(writers) == 0 {
		return zerolog.New(io.Discard).Level(zerolog.Disabled)
	}
	wrapped := make([]io.Writer, len(writers))
	for i, w := range writers {
		wrapped[i] = wrap(w)
	}
	ctx := zerolog.New(zerolog.MultiLevelWriter(wrapped...)).Level(l.level).With()
	if timestamps {
		ctx = ctx.Timestamp()
	}
	for _, field := range l.context {
		ctx = ctx.Str(field.key, field.value)
	}
	return ctx.Logger()
}

// Trace logs a trace event.
func (l *Logger) Trace(args ...any) {
	l.log(zerolog.TraceLevel, args...)
}

// Debug logs a debug event.
func (l *Logger) Debug(args ...any) {
	l.log(zerolog.DebugLevel, args...)
}

// Info logs an info event.
func (l *Logger) Info(args ...any) {
	l.log(zerolog.InfoLevel, args...)
}

// Warn logs a warning event.
func (l *Logger) Warn(args ...any) {
	l.log(zerolog.WarnLevel, args...)
}

// Error logs an error event.
func (l *Logger) Error(args ...any) {
	l.log(zerolog.ErrorLevel, args...)
}

// Panic logs a panic event to every writer and then panics.
func (l *Logger) Panic(args ...any) {
	l.log(zerolog.PanicLevel, args...)
}

// log builds the messages for an event and sends it to all three outputs. Arguments may contain one error, one
// StructuredLogInfo and any number of colors.ColorFunc values which color the arguments that follow them.
func (l *Logger) log(level zerolog.Level, args ...any) {
	colorMsg, plainMsg, err, info := buildMsgs(args...)
	withStack := level == zerolog.PanicLevel || l.level <= zerolog.DebugLevel

	events := []struct {
		event *zerolog.Event
		msg   string
	}{
		{l.structuredLogger.WithLevel(level), plainMsg},
		{l.unstructuredLogger.WithLevel(level), plainMsg},
		{l.unstructuredColorLogger.WithLevel(level), colorMsg},
	}
	for _, e := range events {
		if e.event == nil {
			continue
		}
		if err != nil {
			e.event = e.event.Err(err)
			if withStack {
				e.event = e.event.Stack()
			}
		}
		if info != nil {
			e.event = e.event.Any("info", info)
		}
		e.event.Msg(e.msg)
	}

	if level == zerolog.PanicLevel {
		panic(plainMsg)
	}
}

// buildMsgs returns the colorized and plain messages for a list of arguments, along with the optional error and
// StructuredLogInfo found among them.
func buildMsgs(args ...any) (string, string, error, StructuredLogInfo) {
	colorCtx := colors.Reset
	colored := make([]string, 0, len(args))
	plain := make([]string, 0, len(args))
	var info StructuredLogInfo
	var err error

	for _, arg := range args {
		switch t := arg.(type) {
		case colors.ColorFunc:
			colorCtx = t
		case StructuredLogInfo:
			info = t
		case error:
			err = t
		default:
			colored = append(colored, colorCtx(t))
			plain = append(plain, fmt.Sprintf("%v", t))
		}
	}
	return strings.Join(colored, ""), strings.Join(plain, ""), err, info
}

// formatConsoleWriter applies the console formatting: no timestamps, glyphs for levels, and the module field hidden
// unless debugging.
func formatConsoleWriter(writer zerolog.ConsoleWriter, level zerolog.Level) zerolog.ConsoleWriter {
	writer.FormatTimestamp = func(i any) string {
		return ""
	}
	writer.FormatLevel = func(i any) string {
		str, _ := i.(string)
		parsed, err := zerolog.ParseLevel(str)
		if err != nil {
			return str
		}
		switch parsed {
		case zerolog.TraceLevel:
			return colors.CyanBold(zerolog.LevelTraceValue)
		case zerolog.DebugLevel:
			return colors.BlueBold(zerolog.LevelDebugValue)
		case zerolog.InfoLevel:
			return colors.GreenBold(colors.LEFT_ARROW)
		case zerolog.WarnLevel:
			return colors.YellowBold(zerolog.LevelWarnValue)
		case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
			return colors.RedBold(str)
		default:
			return str
		}
	}
	if level > zerolog.DebugLevel {
		writer.FieldsExclude = []string{"module"}
	}
	return writer
}

// ConfigureGlobalLogger sets the level of the GlobalLogger, attaches stdout as a console writer, and optionally a
// log file in logDirectory. It returns a function closing the log file, if any.
func ConfigureGlobalLogger(level zerolog.Level, noColor bool, logDirectory string) (func() error, error) {
	GlobalLogger.SetLevel(level)
	if noColor {
		colors.DisableColor()
	}
	GlobalLogger.AddWriter(os.Stdout, UNSTRUCTURED, !noColor)

	if logDirectory == "" {
		return func() error { return nil }, nil
	}
	file, err := createLogFile(logDirectory)
	if err != nil {
		return nil, err
	}
	GlobalLogger.AddWriter(file, STRUCTURED, false)
	return func() error {
		GlobalLogger.RemoveWriter(file, STRUCTURED, false)
		return file.Close()
	}, nil
}
