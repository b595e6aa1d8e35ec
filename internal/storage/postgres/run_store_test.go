package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docsearch-stager/internal/stager"
)

func TestSaveRunUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := stager.Run{
		ID:           "run-1",
		LiveIndex:    "docs",
		StagingIndex: "docs_tmp",
		State:        stager.RunStatePopulating,
		Started:      now,
		Updated:      now,
		Counters:     stager.RunCounters{Pages: 2, RecordsAccepted: 10},
	}

	mock.ExpectExec("INSERT INTO staging_runs").
		WithArgs(
			run.ID,
			run.LiveIndex,
			run.StagingIndex,
			"populating",
			run.Started,
			run.Updated,
			pgxmock.AnyArg(),
			"",
			[]byte(`{"pages":2,"records_received":0,"records_accepted":10,"records_oversized":0,"batches":0,"synonyms":0}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO runs").WillReturnError(boom)

	err = store.SaveRun(context.Background(), stager.Run{ID: "run-1"})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.SaveRun(context.Background(), stager.Run{}))
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	rows := mock.NewRows([]string{
		"id", "live_index", "staging_index", "state", "started_at", "updated_at", "finished_at", "error_text", "counters",
	}).AddRow("run-1", "docs", "docs_tmp", "promoted", started, finished, &finished, "", []byte(`{"pages":3}`))

	mock.ExpectQuery("SELECT (.+) FROM staging_runs").WithArgs("run-1").WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, stager.RunStatePromoted, run.State)
	assert.Equal(t, 3, run.Counters.Pages)
	require.NotNil(t, run.Finished)
	assert.True(t, finished.Equal(*run.Finished))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM staging_runs").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err = store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, stager.ErrRunNotFound)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS staging_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTableNameValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewRunStoreWithPool(nil, "")
	require.Error(t, err)
	_, err = NewRunStore(context.Background(), Config{})
	require.Error(t, err)
}
