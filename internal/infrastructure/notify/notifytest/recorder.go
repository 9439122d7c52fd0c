// Package notifytest provides an in-memory notify.Dispatcher for tests.
package notifytest

import (
	"context"
	"sync"

	"transaction-reconciler/internal/domain"
	"transaction-reconciler/internal/infrastructure/notify"
)

// Sent is one notification captured by Recorder.
type Sent struct {
	Name  notify.Name
	Owner domain.OwnerRef
	State domain.PaymentState
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

var _ notify.Dispatcher = (*Recorder)(nil)

func (r *Recorder) Dispatch(_ context.Context, name notify.Name, aggregate domain.Aggregate, triggered notify.Triggered) error {
	if triggered.Has(name) {
		return nil
	}
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Name: name, Owner: aggregate.OwnerRef(), State: aggregate.Payment()})
	r.mu.Unlock()
	triggered.Add(name)
	return nil
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

func (r *Recorder) Names() []notify.Name {
	var names []notify.Name
	for _, s := range r.Sent() {
		names = append(names, s.Name)
	}
	return names
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
