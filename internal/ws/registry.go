// Package ws implements the live-subscription fan-out: a registry of
// per-producer subscriber handles and the gorilla/websocket client plumbing
// behind them.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/metrics"
)

// Handle is one live subscriber connection. Deliver must not block; a
// returned error marks the handle dead and removes it from the registry.
type Handle interface {
	Deliver(payload []byte) error
	Close()
}

// Registry maps user ids to their live subscriber handles. A handle belongs
// to at most one user's set; dead handles are removed on the first failed
// delivery so later broadcasts never hit stale connections.
type Registry struct {
	mu      sync.Mutex
	subs    map[int64]map[Handle]struct{}
	log     *logrus.Logger
	metrics *metrics.Pipeline
}

// NewRegistry creates an empty Registry.
func NewRegistry(log *logrus.Logger, m *metrics.Pipeline) *Registry {
	return &Registry{
		subs:    make(map[int64]map[Handle]struct{}),
		log:     log,
		metrics: m,
	}
}

// Subscribe registers a handle under a user id. Idempotent per handle.
func (r *Registry) Subscribe(userID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[userID]
	if !ok {
		set = make(map[Handle]struct{})
		r.subs[userID] = set
	}
	if _, dup := set[h]; dup {
		return
	}
	set[h] = struct{}{}
	r.metrics.WSSubscribers.Inc()
}

// Unsubscribe removes a handle. Calling it for an already-removed handle is a
// no-op.
func (r *Registry) Unsubscribe(userID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, h)
}

// SubscriberCount reports how many handles are registered for a user.
func (r *Registry) SubscriberCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[userID])
}

// Broadcast delivers a user's slice of a flushed batch to every handle
// registered for that user. A failed delivery removes only the failing
// handle; the rest still receive the payload. Broadcasts for one user are
// serialized by the registry lock, so per-user delivery order follows call
// order.
func (r *Registry) Broadcast(userID int64, records []telemetry.ProcessedAgentData) {
	payload, err := json.Marshal(records)
	if err != nil {
		r.log.WithError(err).WithField("user_id", userID).Error("broadcast marshal failed")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for h := range r.subs[userID] {
		if err := h.Deliver(payload); err != nil {
			r.log.WithError(err).WithField("user_id", userID).
				Warn("subscriber delivery failed, removing handle")
			r.removeLocked(userID, h)
		}
	}
}

func (r *Registry) removeLocked(userID int64, h Handle) {
	set, ok := r.subs[userID]
	if !ok {
		return
	}
	if _, present := set[h]; !present {
		return
	}
	delete(set, h)
	if len(set) == 0 {
		delete(r.subs, userID)
	}
	h.Close()
	r.metrics.WSSubscribers.Dec()
}
