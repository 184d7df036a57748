package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewManager(ManagerConfig{
		KV:      NewRedisKVFromClient(client),
		Durable: NewMemoryStore(),
	})
}

func TestManager_NamespaceIsolation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, DBCache, "knowledge_base", "shared-key", []byte("kb-value"), 0))
	require.NoError(t, m.Set(ctx, DBCache, "session_manager", "shared-key", []byte("sess-value"), 0))

	val, err := m.Get(ctx, DBCache, "knowledge_base", "shared-key")
	require.NoError(t, err)
	require.Equal(t, []byte("kb-value"), val)

	val, err = m.Get(ctx, DBCache, "session_manager", "shared-key")
	require.NoError(t, err)
	require.Equal(t, []byte("sess-value"), val)

	// Deleting in one namespace must not affect the other.
	n, err := m.Delete(ctx, DBCache, "knowledge_base", "shared-key")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	val, err = m.Get(ctx, DBCache, "session_manager", "shared-key")
	require.NoError(t, err)
	require.Equal(t, []byte("sess-value"), val)
}

func TestManager_UnregisteredNamespacesDoNotCollide(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, DBCache, "legacy_caller_a", "k", []byte("a"), 0))
	require.NoError(t, m.Set(ctx, DBCache, "legacy_caller_b", "k", []byte("b"), 0))

	val, err := m.Get(ctx, DBCache, "legacy_caller_a", "k")
	require.NoError(t, err)
	require.Equal(t, []byte("a"), val)
}

func TestManager_GetAbsentKey(t *testing.T) {
	m := newTestManager(t)

	val, err := m.Get(context.Background(), DBCache, "knowledge_base", "nope")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestManager_ListKeysStripsPrefix(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, DBKnowledge, "knowledge_base", "alpha", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, DBKnowledge, "knowledge_base", "beta", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, DBKnowledge, "session_manager", "gamma", []byte("3"), 0))

	keys, err := m.ListKeys(ctx, DBKnowledge, "knowledge_base", "*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta"}, keys)
}

func TestManager_InvalidLogicalDB(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get(context.Background(), LogicalDB("bogus"), "knowledge_base", "k")
	require.Error(t, err)
	he, ok := err.(*huberrors.HubError)
	require.True(t, ok)
	require.Equal(t, huberrors.TypeValidation, he.Type)
}

func TestManager_FastStoreFailureIsDistinguishable(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	m := NewManager(ManagerConfig{
		KV:      NewRedisKVFromClient(client),
		Durable: NewMemoryStore(),
	})
	ctx := context.Background()

	s.Close()

	_, err := m.Get(ctx, DBCache, "knowledge_base", "k")
	require.Error(t, err)
	require.True(t, huberrors.IsStorageUnavailable(err))
	he := err.(*huberrors.HubError)
	require.Equal(t, "fast_store", he.Component)

	// Durable half keeps working.
	require.NoError(t, m.UpsertDocument(ctx, &Document{
		Namespace: "kb", DocID: "d1", Content: "still writable",
	}))
}

func TestManager_DocumentRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertDocument(ctx, &Document{
		Namespace: "kb",
		DocID:     "doc1",
		Title:     "Title",
		Content:   "hello world",
	}))

	doc, err := m.GetDocument(ctx, "kb", "doc1")
	require.NoError(t, err)
	require.Equal(t, "hello world", doc.Content)
	require.Equal(t, "Title", doc.Title)
	require.False(t, doc.CreatedAt.IsZero())

	_, err = m.GetDocument(ctx, "kb", "doc2")
	require.True(t, huberrors.IsNotFound(err))

	// Same doc_id in a different namespace is a different document.
	_, err = m.GetDocument(ctx, "other", "doc1")
	require.True(t, huberrors.IsNotFound(err))
}

func TestManager_DocumentUpdatePreservesCreatedAt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.UpsertDocument(ctx, &Document{Namespace: "kb", DocID: "doc1", Content: "v1"}))
	first, err := m.GetDocument(ctx, "kb", "doc1")
	require.NoError(t, err)

	require.NoError(t, m.UpsertDocument(ctx, &Document{Namespace: "kb", DocID: "doc1", Content: "v2"}))
	second, err := m.GetDocument(ctx, "kb", "doc1")
	require.NoError(t, err)

	require.Equal(t, "v2", second.Content)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.False(t, second.UpdatedAt.Before(first.UpdatedAt))
}

func TestManager_ExpiredSessionReadsAsAbsent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, m.UpsertSession(ctx, &Session{
		Namespace: "sess",
		SessionID: "s1",
		UserID:    "user1",
		ExpiresAt: &past,
	}))

	_, err := m.GetSession(ctx, "sess", "s1")
	require.True(t, huberrors.IsNotFound(err))

	// The sweep removes it entirely.
	removed, err := m.DeleteExpiredSessions(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func TestManager_SessionLifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	require.NoError(t, m.UpsertSession(ctx, &Session{
		Namespace: "sess",
		SessionID: "s1",
		UserID:    "user1",
		Data:      map[string]any{"step": "one"},
		ExpiresAt: &future,
	}))

	got, err := m.GetSession(ctx, "sess", "s1")
	require.NoError(t, err)
	require.Equal(t, "user1", got.UserID)
	require.Equal(t, "one", got.Data["step"])

	sessions, err := m.ListSessions(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, m.DeleteSession(ctx, "sess", "s1"))
	_, err = m.GetSession(ctx, "sess", "s1")
	require.True(t, huberrors.IsNotFound(err))
}

func TestManager_ExperienceAppendAndList(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, m.AppendExperience(ctx, &Experience{
			Namespace:    "exp",
			ExperienceID: id,
			Category:     "routing",
			Outcome:      "ok",
			Confidence:   0.8,
		}))
	}

	out, err := m.ListExperiences(ctx, "exp", "routing", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = m.ListExperiences(ctx, "exp", "other", 10)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestManager_PurgeNamespace(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, DBCache, "knowledge_base", "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, DBCache, "knowledge_base", "b", []byte("2"), 0))
	require.NoError(t, m.Set(ctx, DBCache, "session_manager", "c", []byte("3"), 0))

	n, err := m.PurgeNamespace(ctx, DBCache, "knowledge_base")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	val, err := m.Get(ctx, DBCache, "session_manager", "c")
	require.NoError(t, err)
	require.Equal(t, []byte("3"), val)
}

func TestPrefixFor_Deterministic(t *testing.T) {
	require.Equal(t, "kb", PrefixFor("knowledge_base"))
	require.Equal(t, PrefixFor("unknown_caller"), PrefixFor("unknown_caller"))
	require.NotEqual(t, PrefixFor("unknown_caller_a"), PrefixFor("unknown_caller_b"))
}

func TestManager_StatsCountOpsAndErrors(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	m := NewManager(ManagerConfig{
		KV:      NewRedisKVFromClient(client),
		Durable: NewMemoryStore(),
	})
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, DBCache, "knowledge_base", "k", []byte("v"), 0))
	_, err := m.Get(ctx, DBCache, "knowledge_base", "k")
	require.NoError(t, err)
	require.NoError(t, m.UpsertDocument(ctx, &Document{
		Namespace: "kb", DocID: "d1", Content: "c",
	}))

	stats := m.Stats()
	require.EqualValues(t, 2, stats.FastOps)
	require.EqualValues(t, 0, stats.FastErrors)
	require.EqualValues(t, 1, stats.DurableOps)
	require.EqualValues(t, 0, stats.DurableErrors)

	// A not-found read is an op, not a store failure.
	_, err = m.GetDocument(ctx, "kb", "missing")
	require.Error(t, err)
	stats = m.Stats()
	require.EqualValues(t, 2, stats.DurableOps)
	require.EqualValues(t, 0, stats.DurableErrors)

	s.Close()
	_, err = m.Get(ctx, DBCache, "knowledge_base", "k")
	require.Error(t, err)
	stats = m.Stats()
	require.EqualValues(t, 3, stats.FastOps)
	require.EqualValues(t, 1, stats.FastErrors)
}
