// Package batch uploads accepted records to the staging index in fixed-size
// chunks.
package batch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/metrics"
	"github.com/JakeFAU/docsearch-stager/internal/record"
)

// DefaultChunkSize is the number of records per write when none is configured.
const DefaultChunkSize = 50

// ObjectWriter is the part of index.Index the uploader needs.
type ObjectWriter interface {
	Name() string
	SaveObjects(ctx context.Context, records []*record.Record) error
}

// Sink receives a copy of every chunk before it is written. Sink errors are
// logged and never fail the upload.
type Sink interface {
	WriteChunk(ctx context.Context, pageURL string, seq int, records []*record.Record) error
}

// Options configures an Uploader.
type Options struct {
	ChunkSize int
	Sinks     []Sink
}

// Uploader writes records to one index.
type Uploader struct {
	writer    ObjectWriter
	chunkSize int
	sinks     []Sink
	logger    *zap.Logger
}

// New creates an Uploader. A ChunkSize of 0 or less uses DefaultChunkSize.
func New(writer ObjectWriter, opts Options, logger *zap.Logger) (*Uploader, error) {
	if writer == nil {
		return nil, fmt.Errorf("object writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &Uploader{
		writer:    writer,
		chunkSize: size,
		sinks:     opts.Sinks,
		logger:    logger.Named("batch"),
	}, nil
}

// ChunkSize returns the effective chunk size.
func (u *Uploader) ChunkSize() int {
	return u.chunkSize
}

// Publish writes records in contiguous chunks, in order, one SaveObjects call
// per chunk. It stops at the first failed chunk and returns the number of
// chunks written before it.
func (u *Uploader) Publish(ctx context.Context, pageURL string, records []*record.Record) (int, error) {
	written := 0
	for start := 0; start < len(records); start += u.chunkSize {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("publish %s: %w", pageURL, err)
		}
		end := min(start+u.chunkSize, len(records))
		chunk := records[start:end]

		for _, sink := range u.sinks {
			if err := sink.WriteChunk(ctx, pageURL, written, chunk); err != nil {
				u.logger.Warn("failed to copy chunk to sink", zap.String("page", pageURL), zap.Error(err))
			}
		}

		began := time.Now()
		err := u.writer.SaveObjects(ctx, chunk)
		metrics.ObserveBatch(err == nil, time.Since(began))
		if err != nil {
			return written, fmt.Errorf("save chunk %d of %s to %s: %w", written, pageURL, u.writer.Name(), err)
		}
		written++
	}
	return written, nil
}

// WriterSink echoes chunks as indented JSON arrays to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteChunk writes the chunk followed by a newline.
func (s *WriterSink) WriteChunk(_ context.Context, _ string, _ int, records []*record.Record) error {
	data, err := record.MarshalIndent(records)
	if err != nil {
		return fmt.Errorf("encode chunk: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}
	return nil
}
