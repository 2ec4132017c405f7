package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/retry"
)

// Loader bootstraps a Runtime once and tells waiters when it is usable.
type Loader struct {
	runtime Runtime
	retry   retry.Config
	logger  *logging.Logger

	mu       sync.Mutex
	running  bool
	loaded   bool
	err      error
	ready    chan struct{}
	waiters  []*waiter
	cancel   context.CancelFunc
	attempts int
}

type waiter struct {
	fn        func()
	cancelled bool
}

var (
	loadersMu sync.Mutex
	loaders   = make(map[Runtime]*Loader)
)

// LoaderFor returns the process-wide loader for rt, creating it on first use.
// rt must be comparable.
func LoaderFor(rt Runtime, cfg retry.Config, logger *logging.Logger) *Loader {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	if l, ok := loaders[rt]; ok {
		return l
	}
	l := NewLoader(rt, cfg, logger)
	loaders[rt] = l
	return l
}

// NewLoader creates a loader that is not shared through LoaderFor
func NewLoader(rt Runtime, cfg retry.Config, logger *logging.Logger) *Loader {
	return &Loader{
		runtime: rt,
		retry:   cfg,
		logger:  logging.OrDefault(logger).WithField("runtime", rt.Name()),
		ready:   make(chan struct{}),
	}
}

// Runtime returns the runtime this loader bootstraps
func (l *Loader) Runtime() Runtime {
	return l.runtime
}

// Start begins bootstrapping unless it is already loaded or in progress.
// A failed bootstrap can be started again.
func (l *Loader) Start() {
	l.mu.Lock()
	if l.loaded || l.running {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.running = true
	l.err = nil
	l.cancel = cancel
	l.mu.Unlock()

	go l.bootstrap(ctx)
}

func (l *Loader) bootstrap(ctx context.Context) {
	l.logger.Debug("Bootstrapping media runtime")
	err := retry.Do(ctx, l.retry, func() error {
		l.mu.Lock()
		l.attempts++
		l.mu.Unlock()
		return l.runtime.Bootstrap(ctx)
	})

	l.mu.Lock()
	l.running = false
	l.cancel = nil
	if err != nil {
		l.err = fmt.Errorf("bootstrap %s: %w", l.runtime.Name(), err)
		l.mu.Unlock()
		l.logger.Error("Media runtime failed to load", logging.Fields{"error": err})
		return
	}
	l.loaded = true
	close(l.ready)
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	l.logger.Info("Media runtime loaded")
	for _, w := range waiters {
		l.notify(w)
	}
}

func (l *Loader) notify(w *waiter) {
	l.mu.Lock()
	cancelled := w.cancelled
	l.mu.Unlock()
	if !cancelled {
		go w.fn()
	}
}

// Loaded reports whether the runtime finished bootstrapping
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Err returns the last bootstrap failure, if any
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Attempts returns how many bootstrap attempts have been made
func (l *Loader) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Ready returns a channel closed once the runtime is loaded
func (l *Loader) Ready() <-chan struct{} {
	return l.ready
}

// Wait blocks until the runtime is loaded or ctx is done
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLoaded queues fn to run on its own goroutine once the runtime is
// loaded, immediately if it already is. The returned func removes fn from
// the queue.
func (l *Loader) OnLoaded(fn func()) (cancel func()) {
	w := &waiter{fn: fn}
	l.mu.Lock()
	if l.loaded {
		l.mu.Unlock()
		go fn()
		return func() {}
	}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		w.cancelled = true
		for i, queued := range l.waiters {
			if queued == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				break
			}
		}
	}
}

// Pending returns the number of queued waiters
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Close cancels an in-progress bootstrap
func (l *Loader) Close() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
