// Package sizing splits transformed records into those that fit the per-record
// byte ceiling and those that do not.
package sizing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/metrics"
	"github.com/JakeFAU/docsearch-stager/internal/record"
)

// Rejection is a record that exceeded the ceiling, with its measured size.
type Rejection struct {
	Record *record.Record
	Size   int
}

// Result holds both sides of a split, each in input order.
type Result struct {
	Accepted  []*record.Record
	Oversized []Rejection
}

// Partitioner applies a byte ceiling to records.
type Partitioner struct {
	maxBytes int
	logger   *zap.Logger
}

// New creates a Partitioner. A maxBytes of 0 or less disables the ceiling.
func New(maxBytes int, logger *zap.Logger) *Partitioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &Partitioner{maxBytes: maxBytes, logger: logger}
}

// MaxBytes returns the configured ceiling, 0 when unbounded.
func (p *Partitioner) MaxBytes() int {
	return p.maxBytes
}

// Split measures each record's minimal JSON encoding against the ceiling.
// Oversized records are reported and left out of Accepted; they are not
// retried or split.
func (p *Partitioner) Split(pageURL string, records []*record.Record) (Result, error) {
	if p.maxBytes == 0 {
		metrics.ObserveRecords(metrics.OutcomeAccepted, len(records))
		return Result{Accepted: records}, nil
	}

	res := Result{Accepted: make([]*record.Record, 0, len(records))}
	for _, rec := range records {
		size, err := rec.EncodedSize()
		if err != nil {
			return Result{}, fmt.Errorf("measure record %q: %w", rec.ObjectID, err)
		}
		metrics.ObserveRecordSize(size)
		if size > p.maxBytes {
			p.logger.Warn("record too big, dropping",
				zap.String("object_id", rec.ObjectID),
				zap.Int("size", size),
				zap.Int("max_size", p.maxBytes),
				zap.String("page", pageURL),
			)
			res.Oversized = append(res.Oversized, Rejection{Record: rec, Size: size})
			continue
		}
		res.Accepted = append(res.Accepted, rec)
	}

	metrics.ObserveRecords(metrics.OutcomeAccepted, len(res.Accepted))
	metrics.ObserveRecords(metrics.OutcomeOversized, len(res.Oversized))
	return res, nil
}
