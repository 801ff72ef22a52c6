package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// QueuedChannel is the NOTIFY channel raised whenever a run is queued.
const QueuedChannel = "job_run_queued"

// ErrWaiterRequired is returned by NewNotifier without a Waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until a notification arrives on channel or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, channel string) error
}

// Notifier turns store notifications into in-process wake-ups. Wake-ups are
// hints: a receiver must still poll, and a missed wake-up costs one poll interval.
type Notifier interface {
	Subscribe(channel string) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions tune the listener loop. Zero values pick one-minute waits
// and a 250ms retry delay.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier keeps one hub per channel. A hub owns a single listener
// goroutine that lives while the hub has subscribers.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu      sync.Mutex
	hubs    map[string]*wakeHub
	stopped bool
}

type wakeHub struct {
	stop    context.CancelFunc
	members map[chan struct{}]struct{}
}

// NewNotifier builds a DefaultNotifier.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}
	n := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: opts.WaitWindow,
		backoff:    opts.Backoff,
		hubs:       make(map[string]*wakeHub),
	}
	if n.waitWindow <= 0 {
		n.waitWindow = time.Minute
	}
	if n.backoff <= 0 {
		n.backoff = 250 * time.Millisecond
	}
	return n, nil
}

// Subscribe registers a wake-up channel with capacity one; bursts coalesce.
// The returned func unsubscribes and closes the channel and may be called
// more than once. After StopAll the channel comes back already closed.
func (n *DefaultNotifier) Subscribe(channel string) (func(), <-chan struct{}) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		close(ch)
		return func() {}, ch
	}

	hub, ok := n.hubs[channel]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		hub = &wakeHub{stop: cancel, members: make(map[chan struct{}]struct{})}
		n.hubs[channel] = hub
		go n.listen(ctx, channel)
	}
	hub.members[ch] = struct{}{}

	var once sync.Once
	return func() { once.Do(func() { n.leave(channel, ch) }) }, ch
}

func (n *DefaultNotifier) leave(channel string, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hub, ok := n.hubs[channel]
	if !ok {
		return
	}
	if _, member := hub.members[ch]; !member {
		return
	}
	delete(hub.members, ch)
	closeDrained(ch)

	if len(hub.members) == 0 {
		hub.stop()
		delete(n.hubs, channel)
	}
}

// StopAll stops every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopped = true
	for channel, hub := range n.hubs {
		hub.stop()
		for ch := range hub.members {
			closeDrained(ch)
		}
		delete(n.hubs, channel)
	}
}

func (n *DefaultNotifier) listen(ctx context.Context, channel string) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, channel)
		cancel()

		// Timeouts wake subscribers as well; they fall back to a poll.
		n.wake(channel)

		if err == nil || ctx.Err() != nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(n.backoff):
		}
	}
}

func (n *DefaultNotifier) wake(channel string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hub, ok := n.hubs[channel]
	if !ok {
		return
	}
	for ch := range hub.members {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// closeDrained empties ch before closing it so a receiver sees the close first.
func closeDrained(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
