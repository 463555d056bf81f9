package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// Registry implements ports.RerankerClient over a fixed set of backends.
// Backend selection is a pure function of (configured default, request
// override); readiness is established once at startup, not lazily inside the
// request path, so startup failures surface before traffic arrives.
type Registry struct {
	defaultType domain.RerankerType
	backends    map[domain.RerankerType]Backend
	logger      *slog.Logger

	mu    sync.RWMutex
	ready map[domain.RerankerType]bool
}

func NewRegistry(defaultType domain.RerankerType, backends []Backend, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	byType := make(map[domain.RerankerType]Backend, len(backends))
	for _, backend := range backends {
		byType[backend.Type()] = backend
	}
	return &Registry{
		defaultType: defaultType,
		backends:    byType,
		logger:      logger,
		ready:       make(map[domain.RerankerType]bool, len(backends)),
	}
}

// WarmUp probes every registered backend and records its Ready/NotReady
// state. A NotReady backend is logged and skipped at dispatch time.
func (r *Registry) WarmUp(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for backendType, backend := range r.backends {
		if err := backend.Ready(ctx); err != nil {
			r.ready[backendType] = false
			r.logger.Warn("reranker_backend_not_ready",
				slog.String("backend", string(backendType)),
				slog.String("error", err.Error()))
			continue
		}
		r.ready[backendType] = true
		r.logger.Info("reranker_backend_ready", slog.String("backend", string(backendType)))
	}
}

// Resolve picks the backend for a call: the override when present, the
// configured default otherwise.
func (r *Registry) Resolve(override domain.RerankerType) (Backend, error) {
	selected := override
	if selected == domain.RerankerNone {
		selected = r.defaultType
	}
	if selected == domain.RerankerNone {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "resolve reranker", fmt.Errorf("no backend configured"))
	}

	backend, ok := r.backends[selected]
	if !ok {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "resolve reranker", fmt.Errorf("backend %q not registered", selected))
	}

	r.mu.RLock()
	isReady := r.ready[selected]
	r.mu.RUnlock()
	if !isReady {
		return nil, domain.WrapError(domain.ErrRerankerUnavailable, "resolve reranker", fmt.Errorf("backend %q not ready", selected))
	}
	return backend, nil
}

// Rerank dispatches to the resolved backend. All failures come back as typed
// errors; the caller owns the fail-open decision.
func (r *Registry) Rerank(
	ctx context.Context,
	query string,
	documents []string,
	override domain.RerankerType,
) ([]domain.RerankResult, domain.RerankerType, error) {
	backend, err := r.Resolve(override)
	if err != nil {
		selected := override
		if selected == domain.RerankerNone {
			selected = r.defaultType
		}
		return nil, selected, err
	}

	results, err := backend.Rerank(ctx, query, documents)
	if err != nil {
		return nil, backend.Type(), domain.WrapError(domain.ErrRerankerUnavailable, "rerank", err)
	}
	return results, backend.Type(), nil
}
