package memoryhub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/monitor"
	"github.com/blueberrycongee/memoryhub/internal/storage"
)

// hubConfig holds the assembled construction options.
type hubConfig struct {
	logger *slog.Logger

	redisConfig *storage.RedisConfig
	kv          storage.KV

	postgresConfig *storage.PostgresConfig
	durable        storage.Durable

	encoder             embedding.Encoder
	httpEncoderConfig   *embedding.HTTPEncoderConfig
	hashDimensions      int
	indexPath           string
	metadataPath        string
	similarityThreshold float64
	rebuildRatio        float64

	requireAuth       bool
	tokenSecret       string
	tokenExpiry       time.Duration
	trustedIdentities []string
	scoreCacheTTL     time.Duration

	monitorConfig monitor.Config
	startMonitor  bool
}

func defaultHubConfig() *hubConfig {
	return &hubConfig{
		logger:         slog.Default(),
		hashDimensions: 384,
		monitorConfig:  monitor.DefaultConfig(),
		startMonitor:   true,
	}
}

// Option configures the Hub during construction.
type Option func(*hubConfig)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *hubConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRedis connects the fast store to Redis.
func WithRedis(cfg storage.RedisConfig) Option {
	return func(c *hubConfig) { c.redisConfig = &cfg }
}

// WithKV supplies a pre-built fast store, overriding WithRedis.
func WithKV(kv storage.KV) Option {
	return func(c *hubConfig) { c.kv = kv }
}

// WithPostgres connects the durable store to PostgreSQL. Without this option
// (or WithDurable) the hub uses the in-memory store.
func WithPostgres(cfg storage.PostgresConfig) Option {
	return func(c *hubConfig) { c.postgresConfig = &cfg }
}

// WithDurable supplies a pre-built durable store, overriding WithPostgres.
func WithDurable(d storage.Durable) Option {
	return func(c *hubConfig) { c.durable = d }
}

// WithEncoder supplies a pre-built text encoder.
func WithEncoder(e embedding.Encoder) Option {
	return func(c *hubConfig) { c.encoder = e }
}

// WithHTTPEncoder uses an OpenAI-compatible embeddings endpoint.
func WithHTTPEncoder(cfg embedding.HTTPEncoderConfig) Option {
	return func(c *hubConfig) { c.httpEncoderConfig = &cfg }
}

// WithHashEncoder uses the deterministic built-in encoder.
func WithHashEncoder(dimensions int) Option {
	return func(c *hubConfig) { c.hashDimensions = dimensions }
}

// WithIndexPersistence sets the on-disk index and metadata file paths. Without
// it the index lives only in memory.
func WithIndexPersistence(indexPath, metadataPath string) Option {
	return func(c *hubConfig) {
		c.indexPath = indexPath
		c.metadataPath = metadataPath
	}
}

// WithSimilarityThreshold sets the default search similarity floor.
func WithSimilarityThreshold(threshold float64) Option {
	return func(c *hubConfig) { c.similarityThreshold = threshold }
}

// WithRebuildRatio sets the soft-deleted ratio that triggers a rebuild.
func WithRebuildRatio(ratio float64) Option {
	return func(c *hubConfig) { c.rebuildRatio = ratio }
}

// WithTokenSecret enables token issuance with the given signing secret.
func WithTokenSecret(secret string) Option {
	return func(c *hubConfig) { c.tokenSecret = secret }
}

// WithTokenExpiry sets the default token lifetime.
func WithTokenExpiry(ttl time.Duration) Option {
	return func(c *hubConfig) { c.tokenExpiry = ttl }
}

// WithRequireAuth toggles auth enforcement on the hub's HTTP handler.
func WithRequireAuth(require bool) Option {
	return func(c *hubConfig) { c.requireAuth = require }
}

// WithTrustedIdentities lists identities that receive the trusted role and
// full base trust.
func WithTrustedIdentities(identities ...string) Option {
	return func(c *hubConfig) { c.trustedIdentities = identities }
}

// WithScoreCacheTTL sets the fast-store trust score cache lifetime.
func WithScoreCacheTTL(ttl time.Duration) Option {
	return func(c *hubConfig) { c.scoreCacheTTL = ttl }
}

// WithMonitorConfig overrides the background monitor tuning.
func WithMonitorConfig(cfg monitor.Config) Option {
	return func(c *hubConfig) { c.monitorConfig = cfg }
}

// WithoutMonitor constructs the monitor but does not start its loops. The
// caller owns starting it.
func WithoutMonitor() Option {
	return func(c *hubConfig) { c.startMonitor = false }
}

func (c *hubConfig) buildKV() (storage.KV, error) {
	if c.kv != nil {
		return c.kv, nil
	}
	if c.redisConfig == nil {
		return nil, fmt.Errorf("a fast store is required: use WithRedis or WithKV")
	}
	return storage.NewRedisKV(*c.redisConfig)
}

func (c *hubConfig) buildDurable() (storage.Durable, error) {
	if c.durable != nil {
		return c.durable, nil
	}
	if c.postgresConfig != nil {
		return storage.NewPostgresStore(c.postgresConfig)
	}
	return storage.NewMemoryStore(), nil
}

func (c *hubConfig) buildEncoder() (embedding.Encoder, error) {
	if c.encoder != nil {
		return c.encoder, nil
	}
	if c.httpEncoderConfig != nil {
		return embedding.NewHTTPEncoder(*c.httpEncoderConfig)
	}
	return embedding.NewHashEncoder(c.hashDimensions), nil
}
