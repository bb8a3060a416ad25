// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runlog writes a per-run record of every chat exchange: one JSON
// file per request plus an appended plain-text transcript.
package runlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/jeranaias/gradchat/internal/chat"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/util"
)

// File layout constants.
const (
	// TimestampFormat names run directories and exchange files.
	TimestampFormat = "2006-01-02_15-04-05"

	// TranscriptName is the appended text log inside a run directory.
	TranscriptName = "conversation_log.txt"

	// UnresolvedModel stands in the transcript for a stream that named no
	// model. The requested model is in the exchange file.
	UnresolvedModel = "(unresolved)"

	jsonExt = ".json"
	zstExt  = ".json.zst"
)

// separator ends every transcript record.
var separator = "\n" + strings.Repeat("-", 50) + "\n\n"

// Entry is the content of one exchange file.
type Entry struct {
	Request  gradient.Payload `json:"request"`
	Response []string         `json:"response"`
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder implements chat.Recorder. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	runDir  string
	encoder *zstd.Encoder
	logger  *zap.Logger
}

// Option configures a Recorder.
type Option func(*options)

type options struct {
	compress bool
	now      func() time.Time
	logger   *zap.Logger
}

// WithCompression stores exchange files zstd-compressed as .json.zst.
func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithClock overrides the clock used to name the run directory.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates the run directory <baseDir>/<start time> and returns a
// recorder writing into it.
func New(baseDir string, opts ...Option) (*Recorder, error) {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	runDir := filepath.Join(baseDir, o.now().Format(TimestampFormat))
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	r := &Recorder{runDir: runDir, logger: o.logger}
	if o.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		r.encoder = enc
	}

	o.logger.Debug("run log started", zap.String("dir", runDir), zap.Bool("compress", o.compress))
	return r, nil
}

// RunDir returns the directory this run writes into.
func (r *Recorder) RunDir() string {
	return r.runDir
}

// TranscriptPath returns the path of the appended text log.
func (r *Recorder) TranscriptPath() string {
	return filepath.Join(r.runDir, TranscriptName)
}

// Record writes the exchange file and appends the transcript record.
func (r *Recorder) Record(ex chat.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stamp := ex.Time.Format(TimestampFormat)

	data, err := encodeEntry(Entry{Request: ex.Payload, Response: ex.Lines})
	if err != nil {
		return err
	}

	name := stamp + "_" + uuid.NewString()[:8]
	if r.encoder != nil {
		data = r.encoder.EncodeAll(data, nil)
		name += zstExt
	} else {
		name += jsonExt
	}

	path := filepath.Join(r.runDir, name)
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write exchange file: %w", err)
	}

	modelName := ex.Outcome.Model
	if modelName == "" {
		modelName = UnresolvedModel
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] Model: %s\n", stamp, modelName)
	fmt.Fprintf(&sb, "Question: %s\n", ex.Message)
	fmt.Fprintf(&sb, "Reasoning: %s\n", ex.Outcome.Reasoning)
	fmt.Fprintf(&sb, "Reply: %s\n", ex.Outcome.Reply)
	sb.WriteString(separator)

	if err := util.AppendFile(r.TranscriptPath(), []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to append transcript: %w", err)
	}

	r.logger.Debug("exchange recorded", zap.String("file", name))
	return nil
}

// Close releases the compression encoder.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder != nil {
		err := r.encoder.Close()
		r.encoder = nil
		return err
	}
	return nil
}

// encodeEntry renders the entry as indented JSON without HTML escaping, so
// non-ASCII and markup in replies stay readable.
func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("failed to encode exchange: %w", err)
	}
	return buf.Bytes(), nil
}

// =============================================================================
// READING
// =============================================================================

// ReadEntry reads an exchange file, decompressing .json.zst files.
func ReadEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, zstExt) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
		}
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return &e, nil
}

// ExchangeFiles lists the exchange files in dir in name order.
func ExchangeFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.HasSuffix(name, jsonExt) || strings.HasSuffix(name, zstExt) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files, nil
}
