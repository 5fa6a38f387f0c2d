package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hedisam/photoprep/daemon/actions"
	"github.com/hedisam/photoprep/daemon/telemetry"
)

const (
	DefaultSettleWindow = time.Minute

	tracerName = "github.com/hedisam/photoprep/daemon/dispatch"
)

var (
	ErrActionPanicked = errors.New("action panicked")
	ErrNoResult       = errors.New("action returned no result")
)

type Option func(d *Dispatcher)

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithSettleWindow sets for how long a path produced by one of our own actions is not dispatched again.
func WithSettleWindow(window time.Duration) Option {
	return func(d *Dispatcher) {
		d.settleWindow = window
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer(tracerName)
	}
}

type flight struct {
	rerun int
}

// Dispatcher runs the registered actions over stabilized files. Actions for one file run strictly in
// registration order, one after the other; different files may be processed concurrently.
type Dispatcher struct {
	logger       *logrus.Logger
	registry     *actions.Registry
	clock        clock.Clock
	tracer       trace.Tracer
	metrics      *telemetry.Metrics
	settleWindow time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
	// settled maps paths our own actions moved files to, to when they may be dispatched again.
	settled map[string]time.Time
}

func New(logger *logrus.Logger, registry *actions.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:       logger,
		registry:     registry,
		clock:        clock.New(),
		tracer:       otel.Tracer(tracerName),
		settleWindow: DefaultSettleWindow,
		inflight:     make(map[string]*flight),
		settled:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Process runs the pipeline for path and returns its report. It returns nil without running anything when
// path is already in the middle of a run (the run is repeated once it's done) or when path is the
// result of one of our own renames within the settle window.
func (d *Dispatcher) Process(ctx context.Context, path string) *Report {
	logger := d.logger.WithContext(ctx).WithField("path", path)

	d.mu.Lock()
	if f, ok := d.inflight[path]; ok {
		f.rerun++
		d.mu.Unlock()
		logger.Debug("File is already being processed, queued a rerun")
		return nil
	}
	if until, ok := d.settled[path]; ok {
		if d.clock.Now().Before(until) {
			d.mu.Unlock()
			logger.Debug("File was produced by a rename within the settle window, ignoring")
			return nil
		}
		delete(d.settled, path)
	}
	d.inflight[path] = &flight{}
	d.mu.Unlock()

	var (
		reruns int
		report *Report
	)
	for {
		// a rerun after the first run moved the file finds nothing, keep the report of the run that did the work
		if r := d.run(ctx, path); report == nil || !r.Vanished {
			report = r
		}
		report.Reruns = reruns

		d.mu.Lock()
		f := d.inflight[path]
		if f.rerun == 0 || ctx.Err() != nil {
			delete(d.inflight, path)
			d.mu.Unlock()
			return report
		}
		reruns += f.rerun
		f.rerun = 0
		d.mu.Unlock()

		logger.Debug("Rerunning pipeline for a coalesced dispatch")
	}
}

// InFlight reports whether path is currently being processed.
func (d *Dispatcher) InFlight(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[path]
	return ok
}

func (d *Dispatcher) run(ctx context.Context, path string) *Report {
	runID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "pipeline", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("run_id", runID),
	))
	defer span.End()

	logger := d.logger.WithContext(ctx).WithFields(logrus.Fields{
		"path":   path,
		"run_id": runID,
	})

	if d.metrics != nil {
		d.metrics.InFlight.Inc()
		defer d.metrics.InFlight.Dec()
	}

	report := &Report{
		RunID:     runID,
		Path:      path,
		FinalPath: path,
	}

	_, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("File no longer exists, skipping")
		report.Vanished = true
		return report
	}

	current := path
	for _, action := range d.registry.Ordered() {
		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("Pipeline interrupted")
			break
		}

		outcome := d.apply(ctx, logger, action, current)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Path != current {
			d.settle(outcome.Path)
			current = outcome.Path
		}
	}
	report.FinalPath = current

	span.SetAttributes(attribute.String("final_path", current))
	if failed := len(report.Failures()); failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d action(s) failed", failed))
	}

	return report
}

func (d *Dispatcher) apply(ctx context.Context, logger *logrus.Entry, action actions.Action, path string) Outcome {
	name := action.Name()
	logger = logger.WithFields(logrus.Fields{
		"action": name,
		"path":   path,
	})
	outcome := Outcome{
		Action: name,
		Path:   path,
	}

	ctx, span := d.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	start := d.clock.Now()
	res, err := safeApply(ctx, action, path)
	outcome.Duration = d.clock.Since(start)

	switch {
	case errors.Is(err, errNotApplicable):
		outcome.Status = actions.StatusSkipped
		outcome.Reason = "not applicable"
		logger.Debug("Action does not apply")
	case err != nil:
		outcome.Status = actions.StatusFailed
		outcome.Err = err
		if res != nil {
			outcome.Outputs = res.Outputs
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithError(err).WithField("status", actions.StatusFailed).Error("Action failed")
	case res == nil:
		outcome.Status = actions.StatusFailed
		outcome.Err = ErrNoResult
		span.SetStatus(codes.Error, ErrNoResult.Error())
		logger.WithError(ErrNoResult).WithField("status", actions.StatusFailed).Error("Action failed")
	default:
		outcome.Status = res.Status
		outcome.Outputs = res.Outputs
		outcome.Reason = res.Reason
		if res.Path != "" {
			outcome.Path = res.Path
		}
		entry := logger.WithField("status", res.Status)
		if res.Reason != "" {
			entry = entry.WithField("reason", res.Reason)
		}
		if outcome.Path != path {
			entry = entry.WithField("new_path", outcome.Path)
		}
		if len(res.Outputs) > 0 {
			entry = entry.WithField("outputs", res.Outputs)
		}
		entry.Info("Action finished")
	}

	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	if d.metrics != nil {
		d.metrics.ActionOutcomes.WithLabelValues(name, string(outcome.Status)).Inc()
		d.metrics.ActionDuration.WithLabelValues(name).Observe(outcome.Duration.Seconds())
	}

	return outcome
}

var errNotApplicable = errors.New("not applicable")

// safeApply turns a panicking action into a failure of that action alone.
func safeApply(ctx context.Context, action actions.Action, path string) (res *actions.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrActionPanicked, r)
		}
	}()

	if !action.Applies(path) {
		return nil, errNotApplicable
	}
	return action.Apply(ctx, path)
}

func (d *Dispatcher) settle(path string) {
	if d.settleWindow <= 0 {
		return
	}

	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for p, until := range d.settled {
		if !now.Before(until) {
			delete(d.settled, p)
		}
	}
	d.settled[path] = now.Add(d.settleWindow)
}
