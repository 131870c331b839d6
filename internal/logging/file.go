package logging

import (
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Output resolves a log destination. "", "-" and "/dev/stderr" mean stderr,
// "/dev/stdout" means stdout, anything else is a size-rotated file.
//
// The returned closer must be called on shutdown.
func Output(path string, maxSizeMB int) (io.Writer, func() error) {
	switch path {
	case "", "-", "/dev/stderr":
		return os.Stderr, func() error { return nil }
	case "/dev/stdout":
		return os.Stdout, func() error { return nil }
	}

	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	w := &rotatingFile{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}}
	return w, w.Close
}

// rotatingFile drops writes after Close; lumberjack would otherwise reopen
// the file on the next Write.
type rotatingFile struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func (f *rotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.w.Write(p)
}

func (f *rotatingFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.w.Close()
}
