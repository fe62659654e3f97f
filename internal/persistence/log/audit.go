// Package log writes the operator's sync-audit trail: every broadcast
// published, every inbound mutation applied, and every propagation
// miss, as JSONL compressed with zstd and rotated hourly.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Record is one audit line. Direction is "out", "in", or "miss"
// (a broadcast that failed after the database write committed).
type Record struct {
	At        string `json:"at"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
	Origin    string `json:"origin,omitempty"`
	TownID    int64  `json:"town_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type AuditWriter struct {
	baseDir string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewAuditWriter(baseDir string) *AuditWriter {
	return &AuditWriter{baseDir: baseDir}
}

func (a *AuditWriter) Write(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now().UTC()
	rec.At = now.Format(time.RFC3339Nano)
	hour := now.Format("2006-01-02-15")
	if hour != a.curHour {
		if err := a.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := a.w.Write(b); err != nil {
		return err
	}
	if err := a.w.WriteByte('\n'); err != nil {
		return err
	}
	return a.w.Flush()
}

func (a *AuditWriter) rotateLocked(hour string) error {
	if err := a.closeLocked(); err != nil {
		return err
	}
	path := filepath.Join(a.baseDir, fmt.Sprintf("sync-%s.jsonl.zst", hour))
	if err := os.MkdirAll(a.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	a.f = f
	a.enc = enc
	a.w = bufio.NewWriterSize(enc, 64*1024)
	a.curHour = hour
	return nil
}

func (a *AuditWriter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *AuditWriter) closeLocked() error {
	var err error
	if a.w != nil {
		_ = a.w.Flush()
		a.w = nil
	}
	if a.enc != nil {
		err = a.enc.Close()
		a.enc = nil
	}
	if a.f != nil {
		_ = a.f.Close()
		a.f = nil
	}
	return err
}
