package trust

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/memoryhub/internal/metrics"
	"github.com/blueberrycongee/memoryhub/internal/storage"
	huberrors "github.com/blueberrycongee/memoryhub/pkg/errors"
)

const (
	trustNamespace = "trust_auth"
	scoreKeyPrefix = "score:"

	defaultL1TTL = time.Minute
	defaultL2TTL = time.Hour

	lockStripes = 32
)

// Scorer computes behavioral trust scores from interaction counters. Scores
// are cached in two tiers: an in-process cache for the hot path and the fast
// store so replicas agree. The counters themselves live in the durable store.
type Scorer struct {
	store  *storage.Manager
	logger *slog.Logger
	l1     *gocache.Cache
	l1TTL  time.Duration
	l2TTL  time.Duration

	// Striped per-identity locks keep concurrent interaction updates from
	// losing increments on the read-modify-write cycle.
	locks [lockStripes]sync.Mutex
}

// ScorerConfig contains dependencies and cache tuning for the scorer.
type ScorerConfig struct {
	Store  *storage.Manager
	Logger *slog.Logger
	L1TTL  time.Duration
	L2TTL  time.Duration
}

// NewScorer creates a trust scorer over the storage manager.
func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = defaultL1TTL
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = defaultL2TTL
	}
	return &Scorer{
		store:  cfg.Store,
		logger: cfg.Logger,
		l1:     gocache.New(cfg.L1TTL, 2*cfg.L1TTL),
		l1TTL:  cfg.L1TTL,
		l2TTL:  cfg.L2TTL,
	}
}

// GetScore returns the identity's trust score, consulting the in-process
// cache, then the fast store, then computing from the durable counters.
// Unknown identities score at the guest base.
func (s *Scorer) GetScore(ctx context.Context, identity string) (float64, error) {
	if identity == "" {
		return 0, huberrors.NewValidationError("identity is required")
	}

	if v, ok := s.l1.Get(identity); ok {
		metrics.TrustScoreLookups.WithLabelValues("l1").Inc()
		return v.(float64), nil
	}

	if raw, err := s.store.Get(ctx, storage.DBAuth, trustNamespace, scoreKeyPrefix+identity); err == nil && raw != nil {
		if score, perr := strconv.ParseFloat(string(raw), 64); perr == nil {
			metrics.TrustScoreLookups.WithLabelValues("l2").Inc()
			s.l1.Set(identity, score, s.l1TTL)
			return score, nil
		}
	} else if err != nil {
		// The fast store being down must not take scoring down with it.
		s.logger.Warn("trust score cache read failed", "identity", identity, "error", err)
	}

	score, err := s.computeAndCache(ctx, identity)
	if err != nil {
		return 0, err
	}
	metrics.TrustScoreLookups.WithLabelValues("computed").Inc()
	return score, nil
}

// RecordInteraction updates the identity's counters and invalidates its
// cached score. Profiles are created on first interaction with the generic
// base score.
func (s *Scorer) RecordInteraction(ctx context.Context, identity, outcome string) error {
	if identity == "" {
		return huberrors.NewValidationError("identity is required")
	}
	switch outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeViolation:
	default:
		return huberrors.NewValidationError("unknown interaction outcome: " + outcome)
	}

	lock := s.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	profile, err := s.store.GetTrustProfile(ctx, identity)
	if err != nil {
		if !huberrors.IsNotFound(err) {
			return err
		}
		profile = &storage.TrustProfile{
			Identity:  identity,
			BaseScore: BaseScoreFor([]string{RoleGeneric}),
		}
	}

	switch outcome {
	case OutcomeSuccess:
		profile.Successful++
	case OutcomeFailure:
		profile.Failed++
	case OutcomeViolation:
		profile.Violations++
	}
	profile.RecentActivity = appendBounded(profile.RecentActivity, outcome, 100)
	profile.UpdatedAt = time.Now()

	if err := s.store.UpsertTrustProfile(ctx, profile); err != nil {
		return err
	}
	s.invalidate(ctx, identity)
	return nil
}

// EnsureProfile creates the identity's profile with the base score for its
// roles if it does not already exist.
func (s *Scorer) EnsureProfile(ctx context.Context, identity string, roles []string) error {
	lock := s.lockFor(identity)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.store.GetTrustProfile(ctx, identity)
	if err == nil {
		return nil
	}
	if !huberrors.IsNotFound(err) {
		return err
	}
	return s.store.UpsertTrustProfile(ctx, &storage.TrustProfile{
		Identity:  identity,
		BaseScore: BaseScoreFor(roles),
		UpdatedAt: time.Now(),
	})
}

// Invalidate drops the identity's cached score from both tiers.
func (s *Scorer) Invalidate(ctx context.Context, identity string) {
	s.invalidate(ctx, identity)
}

func (s *Scorer) invalidate(ctx context.Context, identity string) {
	s.l1.Delete(identity)
	if _, err := s.store.Delete(ctx, storage.DBAuth, trustNamespace, scoreKeyPrefix+identity); err != nil {
		s.logger.Warn("trust score cache invalidation failed", "identity", identity, "error", err)
	}
}

func (s *Scorer) computeAndCache(ctx context.Context, identity string) (float64, error) {
	profile, err := s.store.GetTrustProfile(ctx, identity)
	if err != nil {
		if huberrors.IsNotFound(err) {
			return BaseScoreFor(nil), nil
		}
		return 0, err
	}

	score := ComputeScore(profile)
	s.l1.Set(identity, score, s.l1TTL)
	raw := strconv.FormatFloat(score, 'f', -1, 64)
	if err := s.store.Set(ctx, storage.DBAuth, trustNamespace, scoreKeyPrefix+identity, []byte(raw), s.l2TTL); err != nil {
		s.logger.Warn("trust score cache write failed", "identity", identity, "error", err)
	}
	return score, nil
}

// ComputeScore derives a trust score from a profile's counters.
//
// The success factor rewards a high success ratio with up to a 1.2x boost,
// violations subtract a tenth each up to half a point, and sustained activity
// adds up to a tenth of a point. The result is clamped to [0, 1].
func ComputeScore(profile *storage.TrustProfile) float64 {
	successFactor := 1.0
	if total := profile.TotalRequests(); total > 0 {
		successFactor = float64(profile.Successful) / float64(total) * 1.2
		if successFactor > 1.0 {
			successFactor = 1.0
		}
	}

	violationPenalty := float64(profile.Violations) * 0.1
	if violationPenalty > 0.5 {
		violationPenalty = 0.5
	}

	activityBonus := float64(profile.TotalRequests()) / 1000
	if activityBonus > 0.1 {
		activityBonus = 0.1
	}

	score := profile.BaseScore*successFactor - violationPenalty + activityBonus
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (s *Scorer) lockFor(identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &s.locks[h.Sum32()%lockStripes]
}

func appendBounded(list []string, entry string, max int) []string {
	list = append(list, entry)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}
