// Package source reads page documents ({"url", "records", "from_sitemap"})
// from local files, stdin or gs:// objects. A file holds either a JSON array of
// pages or a stream of page objects; a .zst suffix means zstd compression.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/docsearch-stager/internal/record"
	"github.com/JakeFAU/docsearch-stager/internal/storage/gcs"
)

// Page is one crawled page's extracted records.
type Page struct {
	URL         string           `json:"url"`
	Records     []*record.Record `json:"records"`
	FromSitemap bool             `json:"from_sitemap"`
}

// Opener resolves page locations to readers.
type Opener struct {
	// GCS is used for gs:// locations; nil disables them.
	GCS   *storage.Client
	Stdin io.Reader
}

// Open returns a reader over the decompressed content at location. "-" is
// stdin.
func (o Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case location == "-":
		in := o.Stdin
		if in == nil {
			in = os.Stdin
		}
		rc = io.NopCloser(in)
	case strings.HasPrefix(location, "gs://"):
		if o.GCS == nil {
			return nil, fmt.Errorf("open %s: no storage client configured", location)
		}
		rc, err = gcs.OpenObject(ctx, o.GCS, location)
	default:
		rc, err = os.Open(location) // #nosec G304 -- locations are operator-supplied inputs.
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	if !strings.HasSuffix(location, ".zst") {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return &zstdReadCloser{dec: dec, under: rc}, nil
}

type zstdReadCloser struct {
	dec   *zstd.Decoder
	under io.Closer
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.under.Close()
}

// Reader decodes pages one at a time.
type Reader struct {
	br      *bufio.Reader
	dec     *json.Decoder
	started bool
	array   bool
	done    bool
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	br := bufio.NewReader(r)
	return &Reader{br: br, dec: json.NewDecoder(br)}
}

// Next returns the next page or io.EOF when the input is exhausted.
func (r *Reader) Next() (Page, error) {
	if r.done {
		return Page{}, io.EOF
	}
	if !r.started {
		r.started = true
		if err := r.detect(); err != nil {
			return Page{}, err
		}
	}
	if r.array && !r.dec.More() {
		r.done = true
		if _, err := r.dec.Token(); err != nil {
			return Page{}, fmt.Errorf("read page list: %w", err)
		}
		return Page{}, io.EOF
	}

	var page Page
	err := r.dec.Decode(&page)
	if errors.Is(err, io.EOF) && !r.array {
		r.done = true
		return Page{}, io.EOF
	}
	if err != nil {
		return Page{}, fmt.Errorf("decode page: %w", err)
	}
	if page.URL == "" {
		return Page{}, errors.New("decode page: url is required")
	}
	return page, nil
}

// detect peeks past leading whitespace and consumes the opening bracket of an
// array input.
func (r *Reader) detect() error {
	for {
		b, err := r.br.Peek(1)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pages: %w", err)
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = r.br.ReadByte()
			continue
		case '[':
			r.array = true
			if _, err := r.dec.Token(); err != nil {
				return fmt.Errorf("read page list: %w", err)
			}
		}
		return nil
	}
}

// Each streams every page from locations, in order, into fn.
func Each(ctx context.Context, opener Opener, locations []string, fn func(Page) error) error {
	for _, location := range locations {
		if err := eachIn(ctx, opener, location, fn); err != nil {
			return err
		}
	}
	return nil
}

func eachIn(ctx context.Context, opener Opener, location string, fn func(Page) error) error {
	rc, err := opener.Open(ctx, location)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	reader := NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", location, err)
		}
		if err := fn(page); err != nil {
			return err
		}
	}
}
