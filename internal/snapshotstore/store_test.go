package snapshotstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/audiogrid/internal/ctxlog"
	"github.com/specialistvlad/audiogrid/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, ctx
}

func sampleDocument(gain float64) *document.Document {
	d := document.New("session")
	d.AddNode(document.Node{
		ID: 1, Type: "gain", Name: "Gain", Enabled: true,
		Params: cty.ObjectVal(map[string]cty.Value{"gain_db": cty.NumberFloatVal(gain)}),
		State:  []byte(`{"gain_db":0}`),
	})
	d.AddNode(document.Node{ID: 2, Type: "audio.output", Name: "Out", Enabled: true})
	d.AddArc(document.Arc{SourceNode: 1, SourcePort: 2, DestNode: 2, DestPort: 0})
	return d
}

func TestStore_SaveAndLatest(t *testing.T) {
	s, ctx := openTestStore(t)

	_, _, err := s.Latest(ctx, "last")
	assert.ErrorIs(t, err, ErrNotFound)

	first, created, err := s.Save(ctx, "last", sampleDocument(-6))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, first.ID, 36)
	assert.Positive(t, first.Stored)

	again, created, err := s.Save(ctx, "last", sampleDocument(-6))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	second, created, err := s.Save(ctx, "last", sampleDocument(-3))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.Digest, second.Digest)

	d, snap, err := s.Latest(ctx, "last")
	require.NoError(t, err)
	assert.Equal(t, second, snap)
	want, err := document.Digest(sampleDocument(-3))
	require.NoError(t, err)
	got, err := document.Digest(d)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	old, err := s.Load(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, old.Nodes, 2)
	assert.Equal(t, []byte(`{"gain_db":0}`), old.Nodes[0].State)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListAndPrune(t *testing.T) {
	s, ctx := openTestStore(t)
	for i := 0; i < 4; i++ {
		_, _, err := s.Save(ctx, "last", sampleDocument(float64(-i)))
		require.NoError(t, err)
	}
	_, _, err := s.Save(ctx, "other", sampleDocument(0))
	require.NoError(t, err)

	list, err := s.List(ctx, "last")
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.True(t, list[0].CreatedAt.After(list[3].CreatedAt))

	n, err := s.Prune(ctx, "last", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	left, err := s.List(ctx, "last")
	require.NoError(t, err)
	assert.Equal(t, []Snapshot{list[0]}, left)

	other, err := s.List(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
