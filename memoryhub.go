// Package memoryhub provides a unified memory backend as a Go library: a
// namespaced fast cache, a durable document/session/experience store,
// embedding-based semantic search, trust-scored token auth, and a background
// monitor, composed behind one Hub.
//
// MemoryHub can be used in two modes:
//   - Library Mode: import and wire the Hub into your own process
//   - Server Mode: run cmd/server as a standalone HTTP service
//
// Basic usage:
//
//	hub, err := memoryhub.New(
//	    memoryhub.WithRedis(storage.DefaultRedisConfig()),
//	    memoryhub.WithHashEncoder(384),
//	    memoryhub.WithTokenSecret(os.Getenv("HUB_TOKEN_SECRET")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Close()
//
//	id, err := hub.Embeddings().Add(ctx, embedding.AddRequest{
//	    Namespace: "knowledge_base",
//	    Content:   "the cat sat on the mat",
//	})
package memoryhub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/blueberrycongee/memoryhub/internal/api"
	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/monitor"
	"github.com/blueberrycongee/memoryhub/internal/storage"
	"github.com/blueberrycongee/memoryhub/internal/trust"
)

// Version is the current version of MemoryHub.
const Version = "1.0.0"

// Hub composes the storage manager, embedding service, trust layer, and
// background monitor.
type Hub struct {
	cfg *hubConfig

	store      *storage.Manager
	embeddings *embedding.Service
	tokens     *trust.TokenManager
	scorer     *trust.Scorer
	middleware *trust.Middleware
	monitor    *monitor.Monitor
	logger     *slog.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Hub from the given options.
func New(opts ...Option) (*Hub, error) {
	cfg := defaultHubConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Hub{cfg: cfg, logger: cfg.logger}

	kv, err := cfg.buildKV()
	if err != nil {
		return nil, fmt.Errorf("build fast store: %w", err)
	}
	durable, err := cfg.buildDurable()
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("build durable store: %w", err)
	}
	h.store = storage.NewManager(storage.ManagerConfig{
		KV:      kv,
		Durable: durable,
		Logger:  cfg.logger,
	})

	encoder, err := cfg.buildEncoder()
	if err != nil {
		_ = h.store.Close()
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	h.embeddings, err = embedding.NewService(embedding.ServiceConfig{
		Encoder:             encoder,
		Logger:              cfg.logger,
		IndexPath:           cfg.indexPath,
		MetadataPath:        cfg.metadataPath,
		SimilarityThreshold: cfg.similarityThreshold,
		RebuildRatio:        cfg.rebuildRatio,
	})
	if err != nil {
		_ = h.store.Close()
		return nil, fmt.Errorf("build embedding service: %w", err)
	}

	h.scorer = trust.NewScorer(trust.ScorerConfig{
		Store:  h.store,
		Logger: cfg.logger,
		L2TTL:  cfg.scoreCacheTTL,
	})
	if cfg.tokenSecret != "" {
		h.tokens, err = trust.NewTokenManager(trust.TokenManagerConfig{
			Secret:   cfg.tokenSecret,
			TokenTTL: cfg.tokenExpiry,
		})
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("build token manager: %w", err)
		}
	} else if cfg.requireAuth {
		_ = h.store.Close()
		return nil, fmt.Errorf("a token secret is required when auth is enabled")
	}
	h.middleware = trust.NewMiddleware(&trust.MiddlewareConfig{
		Tokens:    h.tokens,
		Scorer:    h.scorer,
		Logger:    cfg.logger,
		Enabled:   cfg.requireAuth,
		SkipPaths: []string{"/healthz", "/metrics"},
	})

	h.monitor = monitor.New(cfg.monitorConfig, h.store, h.embeddings, cfg.logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if cfg.startMonitor {
		h.monitor.Start(ctx)
	}

	return h, nil
}

// Store returns the storage manager.
func (h *Hub) Store() *storage.Manager { return h.store }

// Embeddings returns the embedding service.
func (h *Hub) Embeddings() *embedding.Service { return h.embeddings }

// Scorer returns the trust scorer.
func (h *Hub) Scorer() *trust.Scorer { return h.scorer }

// Tokens returns the token manager, nil when no secret is configured.
func (h *Hub) Tokens() *trust.TokenManager { return h.tokens }

// Monitor returns the background monitor.
func (h *Hub) Monitor() *monitor.Monitor { return h.monitor }

// Handler returns an http.Handler serving the hub's full API.
func (h *Hub) Handler() http.Handler {
	handler := api.NewHandler(api.HandlerConfig{
		Store:             h.store,
		Embeddings:        h.embeddings,
		Tokens:            h.tokens,
		Scorer:            h.scorer,
		Monitor:           h.monitor,
		TrustedIdentities: h.cfg.trustedIdentities,
		Logger:            h.logger,
	})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, h.middleware)
	return mux
}

// Close stops the monitor, persists the index, and releases the stores.
func (h *Hub) Close() error {
	var firstErr error
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		if h.monitor != nil {
			h.monitor.Stop()
		}
		if h.embeddings != nil {
			if err := h.embeddings.Close(); err != nil {
				firstErr = err
			}
		}
		if h.store != nil {
			if err := h.store.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}
