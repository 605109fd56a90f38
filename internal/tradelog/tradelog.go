// Package tradelog provides an append-only, per-day JSONL trade and
// snapshot recorder. Each calendar day (UTC) gets its own file; records
// are appended with a single write-and-flush rather than the
// write-tmp-then-rename pattern used for whole-file snapshots, since
// partial-line corruption on crash is an acceptable, detectable cost for
// an append-only log.
package tradelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"permp-mm/pkg/types"
)

// Recorder appends FillRecord and SnapshotRecord events to per-day JSONL
// files under dir.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	symbol  string
	day     string
	file    *os.File
	encoder *json.Encoder
}

// New creates a recorder writing into dir, creating it if necessary.
func New(dir, symbol string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: create dir: %w", err)
	}
	return &Recorder{dir: dir, symbol: symbol}, nil
}

// RecordFill appends one FillRecord.
func (r *Recorder) RecordFill(rec types.FillRecord) error {
	return r.append(rec.Timestamp, rec)
}

// RecordSnapshot appends one SnapshotRecord.
func (r *Recorder) RecordSnapshot(rec types.SnapshotRecord) error {
	return r.append(rec.Timestamp, rec)
}

func (r *Recorder) append(ts time.Time, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := ts.UTC().Format("2006-01-02")
	if err := r.rollIfNeededLocked(day); err != nil {
		return err
	}
	if err := r.encoder.Encode(v); err != nil {
		return fmt.Errorf("tradelog: encode: %w", err)
	}
	return r.file.Sync()
}

func (r *Recorder) rollIfNeededLocked(day string) error {
	if r.file != nil && r.day == day {
		return nil
	}
	if r.file != nil {
		r.file.Close()
	}

	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s.jsonl", r.symbol, day))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("tradelog: open %s: %w", path, err)
	}
	r.file = f
	r.day = day
	r.encoder = json.NewEncoder(f)
	return nil
}

// Close flushes and closes the current file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
