package trust

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/memoryhub/internal/storage"
)

func newTestStore(t *testing.T) *storage.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewManager(storage.ManagerConfig{
		KV:      storage.NewRedisKVFromClient(client),
		Durable: storage.NewMemoryStore(),
	})
}

func newTestScorer(t *testing.T) (*Scorer, *storage.Manager) {
	t.Helper()
	store := newTestStore(t)
	scorer := NewScorer(ScorerConfig{Store: store})
	return scorer, store
}

func TestComputeScoreBounds(t *testing.T) {
	tests := []struct {
		name    string
		profile storage.TrustProfile
		want    float64
	}{
		{
			name:    "fresh generic profile keeps its base",
			profile: storage.TrustProfile{BaseScore: 0.5},
			want:    0.5,
		},
		{
			name:    "fresh trusted profile keeps its base",
			profile: storage.TrustProfile{BaseScore: 1.0},
			want:    1.0,
		},
		{
			name:    "all failures zero out the success factor",
			profile: storage.TrustProfile{BaseScore: 1.0, Failed: 10},
			want:    0.01, // activity bonus only
		},
		{
			name:    "violations cap at half a point",
			profile: storage.TrustProfile{BaseScore: 1.0, Violations: 20},
			want:    0.5,
		},
		{
			name:    "activity bonus caps at a tenth",
			profile: storage.TrustProfile{BaseScore: 0.5, Successful: 5000},
			want:    0.6,
		},
		{
			name:    "never below zero",
			profile: storage.TrustProfile{BaseScore: 0.1, Failed: 5, Violations: 10},
			want:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, ComputeScore(&tt.profile), 1e-9)
		})
	}
}

func TestScoreMonotonicity(t *testing.T) {
	base := storage.TrustProfile{BaseScore: 0.5, Successful: 50, Failed: 10}
	before := ComputeScore(&base)

	moreSuccess := base
	moreSuccess.Successful += 20
	require.GreaterOrEqual(t, ComputeScore(&moreSuccess), before)

	moreViolations := base
	moreViolations.Violations += 2
	require.Less(t, ComputeScore(&moreViolations), before)
}

func TestUnknownIdentityScoresAsGuest(t *testing.T) {
	scorer, _ := newTestScorer(t)
	score, err := scorer.GetScore(context.Background(), "nobody")
	require.NoError(t, err)
	require.InDelta(t, 0.1, score, 1e-9)
}

func TestRecordInteractionCreatesProfile(t *testing.T) {
	scorer, store := newTestScorer(t)
	ctx := context.Background()

	require.NoError(t, scorer.RecordInteraction(ctx, "agent-1", OutcomeSuccess))

	profile, err := store.GetTrustProfile(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), profile.Successful)
	require.InDelta(t, 0.5, profile.BaseScore, 1e-9)
}

func TestRecordInteractionRejectsUnknownOutcome(t *testing.T) {
	scorer, _ := newTestScorer(t)
	err := scorer.RecordInteraction(context.Background(), "agent-1", "maybe")
	require.Error(t, err)
}

func TestViolationsLowerCachedScore(t *testing.T) {
	scorer, _ := newTestScorer(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, scorer.RecordInteraction(ctx, "agent-2", OutcomeSuccess))
	}
	high, err := scorer.GetScore(ctx, "agent-2")
	require.NoError(t, err)

	require.NoError(t, scorer.RecordInteraction(ctx, "agent-2", OutcomeViolation))
	low, err := scorer.GetScore(ctx, "agent-2")
	require.NoError(t, err)
	require.Less(t, low, high, "violation must invalidate the cached score")
}

func TestConcurrentRecordInteraction(t *testing.T) {
	scorer, store := newTestScorer(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				require.NoError(t, scorer.RecordInteraction(ctx, "agent-3", OutcomeSuccess))
			}
		}()
	}
	wg.Wait()

	profile, err := store.GetTrustProfile(ctx, "agent-3")
	require.NoError(t, err)
	require.Equal(t, int64(workers*perWorker), profile.Successful, "no increments may be lost")
}

func TestEnsureProfileUsesRoleBase(t *testing.T) {
	scorer, store := newTestScorer(t)
	ctx := context.Background()

	require.NoError(t, scorer.EnsureProfile(ctx, "admin-1", []string{RoleTrusted}))
	profile, err := store.GetTrustProfile(ctx, "admin-1")
	require.NoError(t, err)
	require.InDelta(t, 1.0, profile.BaseScore, 1e-9)

	// Re-ensuring with a weaker role must not downgrade.
	require.NoError(t, scorer.EnsureProfile(ctx, "admin-1", []string{RoleGuest}))
	profile, err = store.GetTrustProfile(ctx, "admin-1")
	require.NoError(t, err)
	require.InDelta(t, 1.0, profile.BaseScore, 1e-9)
}

func TestScoreServedFromCacheAfterCompute(t *testing.T) {
	scorer, store := newTestScorer(t)
	ctx := context.Background()

	require.NoError(t, scorer.RecordInteraction(ctx, "agent-4", OutcomeSuccess))
	first, err := scorer.GetScore(ctx, "agent-4")
	require.NoError(t, err)

	// Mutate counters behind the scorer's back; the cached score must win
	// until invalidated.
	profile, err := store.GetTrustProfile(ctx, "agent-4")
	require.NoError(t, err)
	profile.Violations = 5
	profile.UpdatedAt = time.Now()
	require.NoError(t, store.UpsertTrustProfile(ctx, profile))

	cached, err := scorer.GetScore(ctx, "agent-4")
	require.NoError(t, err)
	require.InDelta(t, first, cached, 1e-9)

	scorer.Invalidate(ctx, "agent-4")
	fresh, err := scorer.GetScore(ctx, "agent-4")
	require.NoError(t, err)
	require.Less(t, fresh, first)
}
