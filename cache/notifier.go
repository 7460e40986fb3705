package cache

import (
	"context"
	"sync"
)

// RefreshSignal asks every engine holding the persistent entry Key to
// recompute it. Origin is the instance id of the publishing engine.
type RefreshSignal struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

// Notifier carries refresh signals between engines that share a storage.
// A bust issued by an engine that does not own the persistent entry
// publishes a signal; the owning engine refreshes on receipt.
//
// Contract:
// - Concurrency: Publish is safe for concurrent use.
// - Lifetime: Subscribe returns once the subscription is established and
// delivers signals until ctx is cancelled.
// - Delivery: at-most-once; a signal published while no engine listens is lost.
type Notifier interface {
	Publish(ctx context.Context, sig RefreshSignal) error
	Subscribe(ctx context.Context, handle func(context.Context, RefreshSignal)) error
}

// LocalNotifier fans signals out to subscribers in the same process.
type LocalNotifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(context.Context, RefreshSignal)
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[int]func(context.Context, RefreshSignal))}
}

// Publish calls every subscriber synchronously.
func (n *LocalNotifier) Publish(ctx context.Context, sig RefreshSignal) error {
	n.mu.RLock()
	handlers := make([]func(context.Context, RefreshSignal), 0, len(n.subs))
	for _, h := range n.subs {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, sig)
	}
	return nil
}

// Subscribe registers handle until ctx is cancelled.
func (n *LocalNotifier) Subscribe(ctx context.Context, handle func(context.Context, RefreshSignal)) error {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = handle
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}()
	return nil
}

var _ Notifier = (*LocalNotifier)(nil)
