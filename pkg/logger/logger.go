package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog behind a small structured-field API so call sites do
// not depend on the backend directly.
type Logger struct {
	zl zerolog.Logger
}

type Config struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"console"` // console or json
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
}

// New builds a Logger from config. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	var out *os.File
	switch cfg.Output {
	case "stderr":
		out = os.Stderr
	default:
		out = os.Stdout
	}

	zl := zerolog.New(out)
	if cfg.Format == "console" {
		zl = zl.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat})
	}
	zl = zl.Level(level).With().Timestamp().CallerWithSkipFrameCount(3).Logger()

	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Info(msg string, fields ...Field) {
	ev := l.zl.Info()
	for _, f := range fields {
		f.AddTo(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	ev := l.zl.Warn()
	for _, f := range fields {
		f.AddTo(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Error(msg string, fields ...Field) {
	ev := l.zl.Error()
	for _, f := range fields {
		f.AddTo(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...Field) {
	ev := l.zl.Debug()
	for _, f := range fields {
		f.AddTo(ev)
	}
	ev.Msg(msg)
}

// Field is one structured key/value attached to a log event.
type Field interface {
	AddTo(ev *zerolog.Event)
}

type stringField struct {
	key   string
	value string
}

func (f stringField) AddTo(ev *zerolog.Event) { ev.Str(f.key, f.value) }

type intField struct {
	key   string
	value int
}

func (f intField) AddTo(ev *zerolog.Event) { ev.Int(f.key, f.value) }

type float64Field struct {
	key   string
	value float64
}

func (f float64Field) AddTo(ev *zerolog.Event) { ev.Float64(f.key, f.value) }

type boolField struct {
	key   string
	value bool
}

func (f boolField) AddTo(ev *zerolog.Event) { ev.Bool(f.key, f.value) }

type errorField struct {
	err error
}

func (f errorField) AddTo(ev *zerolog.Event) { ev.Err(f.err) }

type anyField struct {
	key   string
	value any
}

func (f anyField) AddTo(ev *zerolog.Event) { ev.Interface(f.key, f.value) }

type durationField struct {
	key   string
	value time.Duration
}

func (f durationField) AddTo(ev *zerolog.Event) { ev.Str(f.key, f.value.String()) }

type timeField struct {
	key   string
	value time.Time
}

func (f timeField) AddTo(ev *zerolog.Event) { ev.Time(f.key, f.value) }

func String(key, value string) Field             { return stringField{key: key, value: value} }
func Int(key string, value int) Field            { return intField{key: key, value: value} }
func Float64(key string, value float64) Field    { return float64Field{key: key, value: value} }
func Bool(key string, value bool) Field          { return boolField{key: key, value: value} }
func Error(err error) Field                      { return errorField{err: err} }
func Any(key string, value any) Field            { return anyField{key: key, value: value} }
func Duration(key string, d time.Duration) Field { return durationField{key: key, value: d} }
func Time(key string, t time.Time) Field         { return timeField{key: key, value: t} }

// Strings joins a slice into one comma-separated field value.
func Strings(key string, values []string) Field {
	return stringField{key: key, value: strings.Join(values, ", ")}
}

// Percent formats a fraction as a percent string with two decimals.
func Percent(key string, fraction float64) Field {
	return stringField{key: key, value: fmt.Sprintf("%.2f%%", fraction*100)}
}
