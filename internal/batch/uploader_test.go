package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsearch-stager/internal/record"
)

type fakeWriter struct {
	chunks [][]string
	failAt int
	err    error
}

func (f *fakeWriter) Name() string { return "docs_tmp" }

func (f *fakeWriter) SaveObjects(_ context.Context, records []*record.Record) error {
	if f.err != nil && len(f.chunks) == f.failAt {
		return f.err
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ObjectID
	}
	f.chunks = append(f.chunks, ids)
	return nil
}

func makeRecords(n int) []*record.Record {
	out := make([]*record.Record, n)
	for i := range out {
		out[i] = &record.Record{ObjectID: fmt.Sprintf("r%03d", i)}
	}
	return out
}

func TestPublishChunksInOrder(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	up, err := New(writer, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkSize, up.ChunkSize())

	n, err := up.Publish(context.Background(), "https://example.com/", makeRecords(120))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, writer.chunks, 3)
	assert.Len(t, writer.chunks[0], 50)
	assert.Len(t, writer.chunks[1], 50)
	assert.Len(t, writer.chunks[2], 20)

	var flat []string
	for _, c := range writer.chunks {
		flat = append(flat, c...)
	}
	for i, id := range flat {
		assert.Equal(t, fmt.Sprintf("r%03d", i), id)
	}
}

func TestPublishNothing(t *testing.T) {
	t.Parallel()

	writer := &fakeWriter{}
	up, err := New(writer, Options{ChunkSize: 10}, nil)
	require.NoError(t, err)

	n, err := up.Publish(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.chunks)
}

func TestPublishStopsAtFailedChunk(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	writer := &fakeWriter{failAt: 1, err: boom}
	up, err := New(writer, Options{ChunkSize: 10}, nil)
	require.NoError(t, err)

	n, err := up.Publish(context.Background(), "https://example.com/", makeRecords(35))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Len(t, writer.chunks, 1)
}

func TestPublishHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	writer := &fakeWriter{}
	up, err := New(writer, Options{}, nil)
	require.NoError(t, err)

	_, err = up.Publish(ctx, "", makeRecords(3))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, writer.chunks)
}

func TestWriterSinkEchoesChunks(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	up, err := New(&fakeWriter{}, Options{ChunkSize: 2, Sinks: []Sink{NewWriterSink(&buf)}}, nil)
	require.NoError(t, err)

	recs := []*record.Record{
		{ObjectID: "a", Attributes: map[string]any{"z": 1, "content": "<b>"}},
		{ObjectID: "b"},
		{ObjectID: "c"},
	}
	_, err = up.Publish(context.Background(), "", recs)
	require.NoError(t, err)

	dec := json.NewDecoder(&buf)
	var first, second []map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))
	assert.Len(t, first, 2)
	assert.Len(t, second, 1)

	out, err := record.MarshalIndent([]*record.Record{recs[0]})
	require.NoError(t, err)
	assert.Contains(t, string(out), "  {\n    \"content\": \"<b>\",\n    \"objectID\": \"a\",\n    \"z\": 1\n  }")
}

type failingSink struct{ calls int }

func (f *failingSink) WriteChunk(context.Context, string, int, []*record.Record) error {
	f.calls++
	return errors.New("sink unavailable")
}

func TestSinkFailureDoesNotFailUpload(t *testing.T) {
	t.Parallel()

	sink := &failingSink{}
	writer := &fakeWriter{}
	up, err := New(writer, Options{ChunkSize: 2, Sinks: []Sink{sink}}, nil)
	require.NoError(t, err)

	n, err := up.Publish(context.Background(), "", makeRecords(3))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, sink.calls)
	assert.Len(t, writer.chunks, 2)
}

func TestNewRequiresWriter(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{}, nil)
	require.Error(t, err)
}
