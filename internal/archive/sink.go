// Package archive keeps a compressed copy of every uploaded chunk in a blob
// store so a run's input can be inspected or replayed after the fact.
//
// Each chunk becomes one object holding newline-delimited minimal JSON
// records, compressed with zstd.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/docsearch-stager/internal/metrics"
	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

// ContentType is set on every archived object.
const ContentType = "application/zstd"

// Extension is the suffix of archived object names.
const Extension = ".ndjson.zst"

// Sink writes chunks to a blob store under <prefix>/<run id>/.
type Sink struct {
	store   stager.BlobStore
	dir     string
	enc     *zstd.Encoder
	mu      sync.Mutex
	next    int
	objects []string
}

// New creates a Sink for one run.
func New(store stager.BlobStore, prefix, runID string) (*Sink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Sink{store: store, dir: path.Join(prefix, runID), enc: enc}, nil
}

// WriteChunk compresses the chunk and stores it as the next numbered object.
func (s *Sink) WriteChunk(ctx context.Context, _ string, _ int, records []*record.Record) error {
	var raw bytes.Buffer
	for _, rec := range records {
		line, err := record.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", rec.ObjectID, err)
		}
		raw.Write(line)
		raw.WriteByte('\n')
	}

	s.mu.Lock()
	seq := s.next
	s.next++
	compressed := s.enc.EncodeAll(raw.Bytes(), nil)
	s.mu.Unlock()

	name := path.Join(s.dir, fmt.Sprintf("%06d%s", seq, Extension))
	uri, err := s.store.PutObject(ctx, name, ContentType, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("archive chunk %d: %w", seq, err)
	}
	metrics.ObserveArchiveBytes(len(compressed))

	s.mu.Lock()
	s.objects = append(s.objects, uri)
	s.mu.Unlock()
	return nil
}

// Objects returns the URIs written so far, in order.
func (s *Sink) Objects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.objects...)
}

// Close releases the encoder.
func (s *Sink) Close() error {
	return s.enc.Close()
}

// ReadChunk decodes an archived object back into records.
func ReadChunk(r io.Reader) ([]*record.Record, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var out []*record.Record
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record.Record
		if err := rec.UnmarshalJSON(line); err != nil {
			return nil, fmt.Errorf("decode archived record %d: %w", len(out), err)
		}
		out = append(out, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	return out, nil
}
