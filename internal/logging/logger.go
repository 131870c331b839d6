package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

// Level is a log severity level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level %q", s)
	}
}

// Format is a log output format.
type Format string

const (
	Logfmt Format = "logfmt"
	JSON   Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "logfmt":
		return Logfmt, nil
	case "json":
		return JSON, nil
	default:
		return Logfmt, fmt.Errorf("unknown log format %q", s)
	}
}

// Logger is a small leveled key/value logger. Session start/stop lines and
// per-cycle scan lines all go through it.
//
// All methods are safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	format Format
	fields []any
	now    func() time.Time
}

func New(out io.Writer, level Level, format Format) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{out: out, level: level, format: format, now: time.Now}
}

// With returns a logger that prepends kv to every line. It shares the
// underlying writer and its lock with the parent.
func (l *Logger) With(kv ...any) *Logger {
	fields := make([]any, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	fields = append(fields, kv...)
	return &Logger{out: &lockedWriter{l: l}, level: l.level, format: l.format, fields: fields, now: l.now}
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(Debug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.log(Info, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.log(Warn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.log(Error, msg, kv...) }

// Enabled reports whether lines at lvl are written.
func (l *Logger) Enabled(lvl Level) bool {
	return lvl >= l.level
}

func (l *Logger) log(lvl Level, msg string, kv ...any) {
	if lvl < l.level {
		return
	}

	now := l.now().UTC().Format(time.RFC3339Nano)
	levelStr := levelString(lvl)

	if len(l.fields) > 0 {
		kv = append(append([]any{}, l.fields...), kv...)
	}

	var line []byte
	switch l.format {
	case JSON:
		m := map[string]any{
			"ts":    now,
			"level": levelStr,
			"msg":   msg,
		}
		addKV(m, kv...)
		b, err := json.Marshal(m)
		if err != nil {
			b, _ = json.Marshal(map[string]any{"ts": now, "level": levelStr, "msg": msg, "log_error": err.Error()})
		}
		line = append(b, '\n')
	default:
		var sb strings.Builder
		enc := logfmt.NewEncoder(&sb)
		_ = enc.EncodeKeyval("ts", now)
		_ = enc.EncodeKeyval("level", levelStr)
		_ = enc.EncodeKeyval("msg", msg)
		for i := 0; i+1 < len(kv); i += 2 {
			k, ok := kv[i].(string)
			if !ok {
				continue
			}
			if err := enc.EncodeKeyval(k, logfmtValue(kv[i+1])); err != nil {
				_ = enc.EncodeKeyval(k+"_error", err.Error())
			}
		}
		_ = enc.EndRecord()
		line = []byte(sb.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(line)
}

// lockedWriter routes a derived logger's writes through the parent's lock.
type lockedWriter struct {
	l *Logger
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.l.mu.Lock()
	defer w.l.mu.Unlock()
	return w.l.out.Write(p)
}

func levelString(lvl Level) string {
	switch lvl {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

func addKV(m map[string]any, kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		v := kv[i+1]
		switch vv := v.(type) {
		case error:
			v = vv.Error()
		case fmt.Stringer:
			v = vv.String()
		}
		m[k] = v
	}
}

// logfmtValue flattens values the logfmt encoder refuses (maps, slices,
// structs) into their fmt representation.
func logfmtValue(v any) any {
	if v == nil {
		return nil
	}
	switch v.(type) {
	case string, []byte, error, fmt.Stringer:
		return v
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Array, reflect.Chan, reflect.Func, reflect.Map, reflect.Slice, reflect.Struct:
		return fmt.Sprint(v)
	}
	return v
}
