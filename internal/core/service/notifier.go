package service

import "sync"

// notifier fans a "state changed" signal out to watchers. Signals coalesce:
// a watcher that has not drained its channel gets one signal for many
// changes and must re-read state when it wakes up.
type notifier struct {
	mu       sync.Mutex
	watchers map[int]chan struct{}
	next     int
}

func (n *notifier) watch() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.watchers == nil {
		n.watchers = make(map[int]chan struct{})
	}
	id := n.next
	n.next++
	ch := make(chan struct{}, 1)
	n.watchers[id] = ch
	return ch, func() {
		n.mu.Lock()
		delete(n.watchers, id)
		n.mu.Unlock()
	}
}

func (n *notifier) notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
