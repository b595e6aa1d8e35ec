package pubsub

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

func TestAttributesForPromotionEvent(t *testing.T) {
	t.Parallel()

	attrs := attributes(stager.PromotionEvent{RunID: "run-1", LiveIndex: "docs"})
	assert.Equal(t, map[string]string{
		"event_type": "index_promoted",
		"run_id":     "run-1",
		"live_index": "docs",
	}, attrs)

	assert.Empty(t, attributes(map[string]string{"k": "v"}))
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{"a": "1"}}
	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))

	keys := c.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "traceparent"}, keys)
}

func TestPublishRequiresClientAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "promotions", nil)
	require.Error(t, err)
}
