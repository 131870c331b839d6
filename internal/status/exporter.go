package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	atomicfile "github.com/natefinch/atomic"

	"vpn-session-monitor/internal/session"
)

// DefaultPath is on tmpfs so the per-cycle rewrite never touches a disk.
const DefaultPath = "/dev/shm/vpn_live_status.json"

// Exporter publishes the status document to a file.
//
// Each Export writes a temporary file next to Path and renames it over
// Path, so a reader opening Path sees either the previous document or the
// new one, never a prefix of it.
type Exporter struct {
	Path string
	// Mode applies when Export creates Path. An existing file keeps its mode.
	Mode fs.FileMode

	latest atomic.Pointer[Document]
}

func NewExporter(path string) *Exporter {
	if path == "" {
		path = DefaultPath
	}
	return &Exporter{Path: path, Mode: 0o644}
}

// Export renders records and replaces the artifact.
func (e *Exporter) Export(records []session.Record, now time.Time) error {
	doc := Build(records, now)

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	b = append(b, '\n')

	_, statErr := os.Stat(e.Path)
	created := errors.Is(statErr, fs.ErrNotExist)

	if err := atomicfile.WriteFile(e.Path, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("write status %s: %w", e.Path, err)
	}
	if created && e.Mode != 0 {
		if err := os.Chmod(e.Path, e.Mode); err != nil {
			return fmt.Errorf("chmod status %s: %w", e.Path, err)
		}
	}

	e.latest.Store(&doc)
	return nil
}

// Latest returns the last successfully exported document. It is safe to
// call from other goroutines.
func (e *Exporter) Latest() (Document, bool) {
	d := e.latest.Load()
	if d == nil {
		return Document{}, false
	}
	return *d, true
}
