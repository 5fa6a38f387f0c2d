package debounce

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hedisam/pipeline/chans"
)

const (
	DefaultQuietWindow = time.Second
	DefaultQueueSize   = 64
)

// State is the debounce state of a single path.
type State int

const (
	StateIdle State = iota
	StatePending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// StabilizedFile is emitted once no event has been seen for Path during a whole quiet window.
type StabilizedFile struct {
	Path         string
	StabilizedAt time.Time
}

type pendingTimer struct {
	fireAt time.Time
	timer  *clock.Timer
	gen    uint64
}

type Option func(d *Debouncer)

// WithClock replaces the wall clock, mostly useful for tests.
func WithClock(c clock.Clock) Option {
	return func(d *Debouncer) {
		d.clock = c
	}
}

// WithQueueSize sets how many stabilized files can wait for a consumer before timers block.
func WithQueueSize(size int) Option {
	return func(d *Debouncer) {
		d.queueSize = max(size, 0)
	}
}

// WithPendingGauge reports the number of pending timers on the given gauge.
func WithPendingGauge(g prometheus.Gauge) Option {
	return func(d *Debouncer) {
		d.pendingGauge = g
	}
}

// Debouncer coalesces bursts of events for the same path. Every path is either idle (no entry) or
// pending(fireAt); each new event moves fireAt to now+quiet. When a timer fires uninterrupted the path
// is emitted as a StabilizedFile and goes back to idle.
type Debouncer struct {
	logger       *logrus.Logger
	clock        clock.Clock
	quiet        time.Duration
	queueSize    int
	pendingGauge prometheus.Gauge

	mu      sync.Mutex
	pending map[string]*pendingTimer
	gen     uint64

	out    chan *StabilizedFile
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	wg     sync.WaitGroup
}

func New(logger *logrus.Logger, quiet time.Duration, opts ...Option) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultQuietWindow
	}

	d := &Debouncer{
		logger:    logger,
		clock:     clock.New(),
		quiet:     quiet,
		queueSize: DefaultQueueSize,
		pending:   make(map[string]*pendingTimer),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.out = make(chan *StabilizedFile, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d
}

// Notify records a raw event for path: an idle path becomes pending and a pending path has its
// timer rescheduled.
func (d *Debouncer) Notify(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return
	}
	d.schedule(path)
}

// Touch reschedules the timer of a pending path and reports whether it did. Idle paths stay idle, so
// writes to files that were never added don't start a pipeline.
func (d *Debouncer) Touch(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return false
	}
	if _, ok := d.pending[path]; !ok {
		return false
	}
	d.schedule(path)
	return true
}

// State returns the current state of path and, when pending, the time its timer fires.
func (d *Debouncer) State(path string) (State, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pt, ok := d.pending[path]
	if !ok {
		return StateIdle, time.Time{}
	}
	return StatePending, pt.fireAt
}

// Pending returns the number of paths waiting for their quiet window to elapse.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Next implements pipeline.Source. It blocks until a file stabilizes and returns io.EOF once the
// debouncer is closed or ctx is done.
func (d *Debouncer) Next(ctx context.Context) (any, error) {
	sf, ok := chans.ReceiveOrDone(ctx, d.out)
	if !ok {
		return nil, io.EOF
	}
	return sf, nil
}

// Close stops all pending timers and closes the output queue. Pending paths are dropped.
func (d *Debouncer) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}

	d.mu.Lock()
	dropped := len(d.pending)
	for _, pt := range d.pending {
		pt.timer.Stop()
	}
	clear(d.pending)
	d.observe()
	d.mu.Unlock()

	if dropped > 0 {
		d.logger.WithField("pending", dropped).Warn("Debouncer closed with pending files, dropping them")
	}

	// release timers blocked on a full queue and wait for them before closing it
	d.cancel()
	d.wg.Wait()
	close(d.out)
}

// schedule must be called with d.mu held.
func (d *Debouncer) schedule(path string) {
	if pt, ok := d.pending[path]; ok {
		pt.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending[path] = &pendingTimer{
		fireAt: d.clock.Now().Add(d.quiet),
		gen:    gen,
		timer: d.clock.AfterFunc(d.quiet, func() {
			d.fire(path, gen)
		}),
	}
	d.observe()
}

func (d *Debouncer) fire(path string, gen uint64) {
	d.mu.Lock()
	pt, ok := d.pending[path]
	if !ok || pt.gen != gen {
		// superseded by a newer event or dropped by Close
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	d.observe()
	d.wg.Add(1)
	d.mu.Unlock()
	defer d.wg.Done()

	d.logger.WithField("path", path).Debug("File stabilized")

	sf := &StabilizedFile{
		Path:         path,
		StabilizedAt: d.clock.Now(),
	}
	if !chans.SendOrDone(d.ctx, d.out, sf) {
		d.logger.WithField("path", path).Warn("Debouncer closed before the stabilized file was consumed, dropping")
	}
}

func (d *Debouncer) observe() {
	if d.pendingGauge != nil {
		d.pendingGauge.Set(float64(len(d.pending)))
	}
}
