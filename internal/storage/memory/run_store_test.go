package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	run := stager.Run{ID: "run-1", State: stager.RunStateInitialized}

	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	finished := time.Now().UTC()
	run.State = stager.RunStatePromoted
	run.Finished = &finished
	run.Counters.Pages = 3
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	finished = finished.Add(time.Hour)

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.State != stager.RunStatePromoted || got.Counters.Pages != 3 {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.Finished == nil || got.Finished.Equal(finished) {
		t.Fatal("expected stored finish time to be a copy")
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, stager.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.SaveRun(ctx, stager.Run{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}
