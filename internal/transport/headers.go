package transport

import "sync/atomic"

// HeaderSnapshot is an immutable header set published by the auth
// middleware and read by HTTP-family transports on every send. Spec §4.B
// / §9 call for "shared mutable headers" realized as an atomically
// swapped immutable snapshot, so writers never race with a reader mid-map-
// iteration.
type HeaderSnapshot map[string]string

// SharedHeaders is an atomically-swappable pointer to the current
// HeaderSnapshot for one connection. The transport reads it at send
// time; AuthTransport (internal/middleware) publishes new snapshots on
// every refresh.
type SharedHeaders struct {
	ptr atomic.Pointer[HeaderSnapshot]
}

// NewSharedHeaders creates a SharedHeaders seeded with an empty snapshot.
func NewSharedHeaders() *SharedHeaders {
	h := &SharedHeaders{}
	empty := HeaderSnapshot{}
	h.ptr.Store(&empty)
	return h
}

// Load returns the current snapshot. Safe to call concurrently with Store.
func (h *SharedHeaders) Load() HeaderSnapshot {
	return *h.ptr.Load()
}

// Store publishes a new snapshot atomically.
func (h *SharedHeaders) Store(snapshot HeaderSnapshot) {
	h.ptr.Store(&snapshot)
}
