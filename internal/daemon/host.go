package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/najahiiii/xray-panel/internal/model"
)

// Sampler probes the host once.
type Sampler interface {
	Sample(ctx context.Context) model.SystemSnapshot
}

// HostCache serves the last host sample so dashboard requests do not block
// on a CPU probe.
type HostCache struct {
	sampler Sampler

	mu   sync.RWMutex
	last model.SystemSnapshot
	ok   bool
}

func NewHostCache(s Sampler) *HostCache {
	return &HostCache{sampler: s}
}

// Refresh takes a new sample and stores it.
func (h *HostCache) Refresh(ctx context.Context) model.SystemSnapshot {
	snap := h.sampler.Sample(ctx)
	h.mu.Lock()
	h.last, h.ok = snap, true
	h.mu.Unlock()
	return snap
}

// Sample returns the cached snapshot, sampling live before the first refresh.
func (h *HostCache) Sample(ctx context.Context) model.SystemSnapshot {
	h.mu.RLock()
	snap, ok := h.last, h.ok
	h.mu.RUnlock()
	if !ok {
		return h.Refresh(ctx)
	}
	snap.ServerTime = time.Now().UTC()
	return snap
}
