package embedding

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(ServiceConfig{
		Encoder:             NewHashEncoder(64),
		SimilarityThreshold: 0.1,
		RebuildRatio:        0.2,
	})
	require.NoError(t, err)
	return svc
}

func TestAddIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id1, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "the cat sat on the mat"})
	require.NoError(t, err)
	id2, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "the cat sat on the mat"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	st := svc.Stats()
	require.Equal(t, 1, st.Total)
	require.Equal(t, 1, st.Active)
}

func TestSameContentDifferentNamespace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id1, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "shared text"})
	require.NoError(t, err)
	id2, err := svc.Add(ctx, AddRequest{Namespace: "session_manager", Content: "shared text"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Equal(t, 2, svc.Stats().Total)
}

func TestSearchRanksSharedTokensHigher(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "the cat sat on the mat"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "quarterly revenue exceeded projections"})
	require.NoError(t, err)

	results, err := svc.Search(ctx, SearchRequest{Query: "cat on a mat", Namespace: "knowledge_base", Limit: 2})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "the cat sat on the mat", results[0].Record.Content)
}

func TestSearchFiltersNamespace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "alpha beta gamma"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, AddRequest{Namespace: "session_manager", Content: "alpha beta delta"})
	require.NoError(t, err)

	results, err := svc.Search(ctx, SearchRequest{Query: "alpha beta", Namespace: "session_manager", Limit: 10})
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, "session_manager", r.Record.Namespace)
	}
}

func TestDeleteHidesFromSearch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "ephemeral fact"})
	require.NoError(t, err)

	require.True(t, svc.Delete(ctx, id))
	require.False(t, svc.Delete(ctx, id), "second delete of the same id")
	require.False(t, svc.Delete(ctx, "knowledge_base:unknown"))

	results, err := svc.Search(ctx, SearchRequest{Query: "ephemeral fact", Namespace: "knowledge_base", Limit: 10})
	require.NoError(t, err)
	require.Empty(t, results)

	st := svc.Stats()
	require.Equal(t, 1, st.Total)
	require.Equal(t, 0, st.Active)
	require.Equal(t, 1, st.Deleted)
}

func TestReAddRevivesSoftDeleted(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "revivable fact"})
	require.NoError(t, err)
	require.True(t, svc.Delete(ctx, id))

	id2, err := svc.Add(ctx, AddRequest{
		Namespace: "knowledge_base",
		Content:   "revivable fact",
		Category:  "updated",
	})
	require.NoError(t, err)
	require.Equal(t, id, id2)

	st := svc.Stats()
	require.Equal(t, 1, st.Total, "revive must not append a new entry")
	require.Equal(t, 1, st.Active)

	results, err := svc.Search(ctx, SearchRequest{Query: "revivable fact", Namespace: "knowledge_base", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "updated", results[0].Record.Category)
}

func TestNeedsRebuild(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	ids := make([]string, 0, 5)
	contents := []string{"one fish", "two fish", "red fish", "blue fish", "old fish"}
	for _, c := range contents {
		id, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: c})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.False(t, svc.NeedsRebuild())
	require.True(t, svc.Delete(ctx, ids[0]))
	// 1 of 5 deleted, ratio 0.2 meets the threshold.
	require.True(t, svc.NeedsRebuild())
}

func TestRebuildDropsDeletedAndPreservesRanking(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "the cat sat on the mat"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "dogs chase squirrels in the park"})
	require.NoError(t, err)
	stale, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "stale entry"})
	require.NoError(t, err)
	require.True(t, svc.Delete(ctx, stale))

	beforeResults, err := svc.Search(ctx, SearchRequest{Query: "cat mat", Namespace: "knowledge_base", Limit: 10})
	require.NoError(t, err)

	stats, err := svc.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Before)
	require.Equal(t, 2, stats.After)
	require.Equal(t, 1, stats.Dropped)

	st := svc.Stats()
	require.Equal(t, 2, st.Total)
	require.Equal(t, 0, st.Deleted)
	require.NoError(t, svc.Ping(ctx))

	afterResults, err := svc.Search(ctx, SearchRequest{Query: "cat mat", Namespace: "knowledge_base", Limit: 10})
	require.NoError(t, err)
	require.Len(t, afterResults, len(beforeResults))
	for i := range beforeResults {
		require.Equal(t, beforeResults[i].Record.ID, afterResults[i].Record.ID)
		require.InDelta(t, beforeResults[i].Similarity, afterResults[i].Similarity, 1e-6)
	}
}

func TestMinSimilarityOverride(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "completely unrelated subject matter"})
	require.NoError(t, err)

	strict := 0.99
	results, err := svc.Search(ctx, SearchRequest{
		Query:         "zebra xylophone",
		Namespace:     "knowledge_base",
		Limit:         10,
		MinSimilarity: &strict,
	})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := ServiceConfig{
		Encoder:             NewHashEncoder(64),
		IndexPath:           filepath.Join(dir, "index.json"),
		MetadataPath:        filepath.Join(dir, "metadata.json"),
		SimilarityThreshold: 0.1,
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	id, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "persisted fact"})
	require.NoError(t, err)
	deletedID, err := svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "deleted fact"})
	require.NoError(t, err)
	require.True(t, svc.Delete(ctx, deletedID))
	require.NoError(t, svc.Close())

	restored, err := NewService(cfg)
	require.NoError(t, err)

	st := restored.Stats()
	require.Equal(t, 2, st.Total)
	require.Equal(t, 1, st.Active)
	require.Equal(t, 1, st.Deleted)

	results, err := restored.Search(ctx, SearchRequest{Query: "persisted fact", Namespace: "knowledge_base", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].Record.ID)
}

func TestDeterministicID(t *testing.T) {
	a := DeterministicID("knowledge_base", "same content")
	b := DeterministicID("knowledge_base", "same content")
	c := DeterministicID("knowledge_base", "other content")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Contains(t, a, "knowledge_base:")
}

func TestLoadDropsVectorsWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	cfg := ServiceConfig{
		Encoder:             NewHashEncoder(64),
		IndexPath:           filepath.Join(dir, "index.json"),
		MetadataPath:        filepath.Join(dir, "metadata.json"),
		SimilarityThreshold: 0.1,
	}

	svc, err := NewService(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "surviving fact"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, AddRequest{Namespace: "knowledge_base", Content: "orphaned fact"})
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// Truncate the metadata file, leaving a trailing vector with no record.
	raw, err := os.ReadFile(cfg.MetadataPath)
	require.NoError(t, err)
	var meta metadataFile
	require.NoError(t, json.Unmarshal(raw, &meta))
	require.Len(t, meta.Records, 2)
	meta.Records = meta.Records[:1]
	raw, err = json.Marshal(metadataFile{Records: meta.Records})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.MetadataPath, raw, 0o644))

	restored, err := NewService(cfg)
	require.NoError(t, err)

	st := restored.Stats()
	require.Equal(t, 1, st.Total)
	require.Equal(t, 1, st.Active)

	results, err := restored.Search(ctx, SearchRequest{Query: "surviving fact", Namespace: "knowledge_base", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
}
