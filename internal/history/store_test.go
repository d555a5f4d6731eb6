package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/script/intrinsics"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.Record(ctx, engine.Record{
		SessionID: "s1", FragmentID: "f1", Source: "print(1)", Fingerprint: "abc",
		Steps: 4, Calls: 1, Duration: 1500 * time.Microsecond, At: at,
	}))
	require.NoError(t, s.Record(ctx, engine.Record{
		SessionID: "s1", FragmentID: "f2", Source: "1 / 0",
		Stage: engine.StageRuntime, Error: "line 1: division by zero", At: at.Add(time.Second),
	}))
	require.NoError(t, s.Record(ctx, engine.Record{SessionID: "s2", FragmentID: "f3", Source: "x", At: at}))

	entries, err := s.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "f1", entries[0].FragmentID)
	assert.True(t, entries[0].OK())
	assert.Empty(t, entries[0].Stage)
	assert.Equal(t, "abc", entries[0].Fingerprint)
	assert.Equal(t, 4, entries[0].Steps)
	assert.Equal(t, 1500*time.Microsecond, entries[0].Duration)
	assert.Equal(t, at, entries[0].At)

	assert.Equal(t, "f2", entries[1].FragmentID)
	assert.False(t, entries[1].OK())
	assert.Equal(t, engine.StageRuntime.Label(), entries[1].Stage)
	assert.Equal(t, "line 1: division by zero", entries[1].Error)
}

func TestListLimitKeepsLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, f := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Record(ctx, engine.Record{SessionID: "s1", FragmentID: f, At: time.Now()}))
	}

	entries, err := s.List(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].FragmentID)
	assert.Equal(t, "d", entries[1].FragmentID)
}

func TestDeleteAndClose(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, engine.Record{SessionID: "s1", FragmentID: "a", At: time.Now()}))
	require.NoError(t, s.Record(ctx, engine.Record{SessionID: "s1", FragmentID: "b", At: time.Now()}))

	n, err := s.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := s.List(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Record(ctx, engine.Record{SessionID: "s1"}), ErrClosed)
	_, err = s.List(ctx, "s1", 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecorderWiredIntoDirectory(t *testing.T) {
	s := openStore(t)
	reg, err := intrinsics.RegisterCore(intrinsics.NewBuilder()).Build()
	require.NoError(t, err)
	dir, err := engine.NewDirectory(reg, engine.Options{Marker: "MARK{", Recorder: s})
	require.NoError(t, err)
	ctx := context.Background()

	dir.Deliver(ctx, "s1", "MARK{ print(1) } MARK{ x = 1 / 0 }")

	entries, err := s.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].OK())
	assert.Len(t, entries[0].Fingerprint, 64)
	assert.Equal(t, "runtime", entries[1].Stage)
}
