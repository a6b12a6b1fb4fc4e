// Package dedup guards the inbound pipeline against webhook redelivery.
//
// A processing marker is created the instant an inbound message is
// accepted and before any side effect; a second delivery of the same
// (contact, messageId) pair finds the marker and is rejected. Markers
// are evicted by a per-marker timer after a fixed TTL regardless of
// stage, which bounds memory without a background sweep.
package dedup

import (
	"log/slog"
	"sync"
	"time"
)

// Stage records how far an accepted event has progressed. Stages are
// observability only; gating is done solely by marker existence.
type Stage string

const (
	StageStarted      Stage = "started"
	StageAIProcessing Stage = "ai_processing"
	StageCompleted    Stage = "completed"
)

// DefaultMarkerTTL is how long a marker lives after creation. WhatsApp
// redelivers within a much shorter window, so a duplicate arriving
// after eviction is reprocessed by design.
const DefaultMarkerTTL = 15 * time.Minute

type marker struct {
	stage     Stage
	firstSeen time.Time
	timer     *time.Timer
}

// Opts holds configuration for the deduplicator.
type Opts struct {
	TTL time.Duration
}

// Option configures the deduplicator.
type Option func(*Opts)

// WithTTL overrides the marker eviction TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// Deduplicator owns the marker set. All methods are safe for concurrent
// use from inbound request handlers.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[string]*marker
}

// New creates a deduplicator with the default 15 minute TTL unless
// overridden.
func New(opts ...Option) *Deduplicator {
	cfg := Opts{TTL: DefaultMarkerTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Deduplicator{
		ttl:     cfg.TTL,
		markers: make(map[string]*marker),
	}
}

func markerKey(contactID, messageID string) string {
	return contactID + "|" + messageID
}

// TryBegin atomically claims (contactID, messageID). It returns true and
// creates a started-stage marker if the pair was unseen; false if a
// marker already exists in any stage, in which case the caller must skip
// all further processing for the event.
func (d *Deduplicator) TryBegin(contactID, messageID string) bool {
	key := markerKey(contactID, messageID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.markers[key]; exists {
		return false
	}
	m := &marker{stage: StageStarted, firstSeen: time.Now()}
	m.timer = time.AfterFunc(d.ttl, func() { d.evict(key, m) })
	d.markers[key] = m
	return true
}

// Advance updates the marker stage for observability. Unknown markers
// (already evicted) are ignored.
func (d *Deduplicator) Advance(contactID, messageID string, stage Stage) {
	key := markerKey(contactID, messageID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, exists := d.markers[key]; exists {
		m.stage = stage
	}
}

// Len returns the number of live markers.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.markers)
}

// Close stops all eviction timers and drops the marker set.
func (d *Deduplicator) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, m := range d.markers {
		m.timer.Stop()
		delete(d.markers, key)
	}
}

// evict removes the marker unless the key was re-claimed by a newer
// marker after an earlier eviction.
func (d *Deduplicator) evict(key string, m *marker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if current, exists := d.markers[key]; exists && current == m {
		delete(d.markers, key)
		slog.Debug("Deduplicator.evict: marker expired", "key", key, "stage", m.stage, "age", time.Since(m.firstSeen))
	}
}
