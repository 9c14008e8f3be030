package store_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/Crawler/internal/store"
)

func open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.Context(), filepath.Join(t.TempDir(), store.FileName))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestStore(t *testing.T) {
	t.Parallel()
	s := open(t)
	ctx := t.Context()

	_, err := s.LastRun(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	id, err := s.StartRun(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, run.InProgress())
	require.Nil(t, run.Success)
	require.Equal(t, id, run.UUID)

	require.NoError(t, s.FinishRun(ctx, id, 10, 1, nil))
	require.ErrorIs(t, s.FinishRun(ctx, id, 10, 1, nil), store.ErrAlreadyFinished)

	run, err = s.LastRun(ctx)
	require.NoError(t, err)
	require.False(t, run.InProgress())
	require.NotNil(t, run.Success)
	require.True(t, *run.Success)
	require.Nil(t, run.FailureReason)
	require.Equal(t, 10, run.Indexed)
	require.Equal(t, 1, run.Failed)
	require.False(t, run.Finished.Before(run.Started))
}

func TestStore_Failure(t *testing.T) {
	t.Parallel()
	s := open(t)
	ctx := t.Context()

	first, err := s.StartRun(ctx)
	require.NoError(t, err)
	second, err := s.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, second, 0, 0, errors.New("connection refused")))

	run, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.Equal(t, second, run.UUID)
	require.False(t, *run.Success)
	require.Equal(t, "connection refused", *run.FailureReason)
	require.Contains(t, run.String(), `failure_reason: "connection refused"`)

	require.ErrorIs(t, s.FinishRun(ctx, "missing", 0, 0, nil), store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, first))
	require.ErrorIs(t, s.Delete(ctx, first), store.ErrNotFound)
	_, err = s.Get(ctx, first)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), store.FileName)
	s, err := store.Open(t.Context(), path)
	require.NoError(t, err)
	id, err := s.StartRun(t.Context())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(t.Context(), path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Close())
	}()
	run, err := s.LastRun(t.Context())
	require.NoError(t, err)
	require.Equal(t, id, run.UUID)
}

func TestOpen_Fail(t *testing.T) {
	t.Parallel()
	_, err := store.Open(t.Context(), filepath.Join(t.TempDir(), "missing", "dir", store.FileName))
	require.Error(t, err)
}
