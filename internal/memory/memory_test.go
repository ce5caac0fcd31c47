package memory

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "mem.db"), 0.1, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1",
		Type:      TypePreference,
		Content:   "prefers analog-style saturation",
		Embedding: []float32{1, 0},
	}))
	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1",
		Type:      TypePractice,
		Content:   "practiced compression yesterday",
		Embedding: []float32{0, 1},
	}))

	got, err := s.List(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []float32{1, 0}, got[1].Embedding)

	other, err := s.List(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestDeleteBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, Entry{SessionID: "s1", Type: TypePractice, Content: "a"}))
	require.NoError(t, s.Add(ctx, Entry{SessionID: "s1", Type: TypeContext, Content: "b"}))
	require.NoError(t, s.Add(ctx, Entry{SessionID: "s2", Type: TypePractice, Content: "c"}))

	n, err := s.DeleteBySession(ctx, "s1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	gone, err := s.List(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := s.List(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, kept, 1, "other sessions must be untouched")
}

func TestAddRejectsInvalidType(t *testing.T) {
	s := newTestStore(t)
	err := s.Add(context.Background(), Entry{SessionID: "s1", Type: "mood", Content: "x"})
	assert.Error(t, err)

	err = s.Add(context.Background(), Entry{Type: TypeContext, Content: "x"})
	assert.Error(t, err, "missing session_id must be rejected")
}

func TestSearchAppliesTimeDecay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	// Same direction as the query, but 30 days old: decay exp(-3) ≈ 0.05
	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1", Type: TypePractice, Content: "old",
		Embedding: []float32{1, 0}, CreatedAt: base.AddDate(0, 0, -30),
	}))
	// Fresh but less similar: cos 0.8
	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1", Type: TypePractice, Content: "fresh",
		Embedding: []float32{0.8, 0.6}, CreatedAt: base,
	}))

	got, err := s.Search(ctx, "s1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].Entry.Content)
	assert.InDelta(t, 0.8, got[0].DecayedScore, 1e-6)
	assert.Less(t, got[1].DecayedScore, 0.06)
}

func TestSearchSkipsMismatchedVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1", Type: TypeContext, Content: "threedim",
		Embedding: []float32{1, 0, 0},
	}))

	got, err := s.Search(ctx, "s1", []float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInjectorDropsBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1", Type: TypePreference, Content: "loves punchy drums",
		Embedding: []float32{1, 0}, CreatedAt: base,
	}))
	// Decayed below 0.35: cos 1.0 but 15 days old, exp(-1.5) ≈ 0.22
	require.NoError(t, s.Add(ctx, Entry{
		SessionID: "s1", Type: TypePractice, Content: "stale note",
		Embedding: []float32{1, 0}, CreatedAt: base.AddDate(0, 0, -15),
	}))

	inj := NewInjector(s, 5, 0.35, zaptest.NewLogger(t))
	block, err := inj.Inject(ctx, "s1", []float32{1, 0})
	require.NoError(t, err)

	assert.Contains(t, block, "loves punchy drums")
	assert.NotContains(t, block, "stale note")
	assert.Contains(t, block, "[preference]")
}

func TestInjectorEmptyWhenNothingRelevant(t *testing.T) {
	s := newTestStore(t)
	inj := NewInjector(s, 5, 0.35, zaptest.NewLogger(t))

	block, err := inj.Inject(context.Background(), "ghost", []float32{1, 0})
	require.NoError(t, err)
	assert.Empty(t, block)

	// No session id means no injection, not an error
	block, err = inj.Inject(context.Background(), "", []float32{1, 0})
	require.NoError(t, err)
	assert.Empty(t, block)
}

type failingSearcher struct{}

func (failingSearcher) Search(ctx context.Context, sessionID string, queryVec []float32, k int) ([]Scored, error) {
	return nil, errors.New("disk gone")
}

func TestInjectorSurfacesStoreError(t *testing.T) {
	inj := NewInjector(failingSearcher{}, 5, 0.35, zaptest.NewLogger(t))
	block, err := inj.Inject(context.Background(), "s1", []float32{1, 0})
	assert.Error(t, err)
	assert.Empty(t, block)
}

func TestInjectorGroupsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	s.now = func() time.Time { return base }

	for _, e := range []Entry{
		{SessionID: "s1", Type: TypePractice, Content: "scales daily", Embedding: []float32{0.9, float32(0.43589)}, CreatedAt: base},
		{SessionID: "s1", Type: TypePreference, Content: "warm mixes", Embedding: []float32{1, 0}, CreatedAt: base},
		{SessionID: "s1", Type: TypePreference, Content: "no autotune", Embedding: []float32{0.95, float32(0.31225)}, CreatedAt: base},
	} {
		require.NoError(t, s.Add(ctx, e))
	}

	inj := NewInjector(s, 5, 0.35, zaptest.NewLogger(t))
	block, err := inj.Inject(ctx, "s1", []float32{1, 0})
	require.NoError(t, err)

	// preference holds the best score, so its group comes first
	prefIdx := strings.Index(block, "[preference]")
	practiceIdx := strings.Index(block, "[practice]")
	require.NotEqual(t, -1, prefIdx)
	require.NotEqual(t, -1, practiceIdx)
	assert.Less(t, prefIdx, practiceIdx)

	// Within the group, entries order by decayed score
	warm := strings.Index(block, "warm mixes")
	noAuto := strings.Index(block, "no autotune")
	assert.Less(t, warm, noAuto)
}
