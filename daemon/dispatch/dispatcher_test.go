package dispatch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hedisam/photoprep/daemon/actions"
	"github.com/hedisam/photoprep/daemon/debounce"
	"github.com/hedisam/photoprep/daemon/dispatch"
	"github.com/hedisam/photoprep/daemon/dispatch/mocks"
	"github.com/hedisam/photoprep/daemon/telemetry"
)

//go:generate moq -out mocks/action.go -pkg mocks -skip-ensure ../actions Action

// recorder keeps the order in which actions were applied across all mocks of a test.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newAction(name string, rec *recorder, apply func(ctx context.Context, path string) (*actions.Result, error)) *mocks.ActionMock {
	return &mocks.ActionMock{
		NameFunc:    func() string { return name },
		AppliesFunc: func(string) bool { return true },
		ApplyFunc: func(ctx context.Context, path string) (*actions.Result, error) {
			if rec != nil {
				rec.record(name)
			}
			return apply(ctx, path)
		},
	}
}

func applied(_ context.Context, path string) (*actions.Result, error) {
	return actions.Applied(path), nil
}

func newDispatcher(t *testing.T, acts []actions.Action, opts ...dispatch.Option) *dispatch.Dispatcher {
	t.Helper()

	reg, err := actions.NewRegistry(acts...)
	require.NoError(t, err)
	return dispatch.New(logrus.New(), reg, opts...)
}

func touchFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
}

func statuses(report *dispatch.Report) []actions.Status {
	var out []actions.Status
	for _, o := range report.Outcomes {
		out = append(out, o.Status)
	}
	return out
}

func TestProcessRunsActionsInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "photo.livp")
	touchFile(t, path)
	renamed := filepath.Join(dir, "250816_101431_photo.livp")

	rec := &recorder{}
	first := newAction("first", rec, func(_ context.Context, path string) (*actions.Result, error) {
		return actions.Applied(path, filepath.Join(dir, "photo_IMG_0001.jpg")), nil
	})
	rename := newAction("rename", rec, func(context.Context, string) (*actions.Result, error) {
		return actions.Applied(renamed), nil
	})
	last := newAction("last", rec, applied)

	d := newDispatcher(t, []actions.Action{first, rename, last})
	report := d.Process(context.Background(), path)
	require.NotNil(t, report)

	assert.Equal(t, []string{"first", "rename", "last"}, rec.Calls())
	assert.Equal(t, []actions.Status{actions.StatusApplied, actions.StatusApplied, actions.StatusApplied}, statuses(report))
	assert.Equal(t, path, report.Path)
	assert.Equal(t, renamed, report.FinalPath)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{filepath.Join(dir, "photo_IMG_0001.jpg")}, report.Outcomes[0].Outputs)

	// the action after the rename sees the new path
	require.Len(t, last.ApplyCalls(), 1)
	assert.Equal(t, renamed, last.ApplyCalls()[0].Path)
	assert.Equal(t, path, rename.ApplyCalls()[0].Path)
	assert.False(t, d.InFlight(path))
}

func TestProcessIsolatesFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		apply         func(context.Context, string) (*actions.Result, error)
		expectedErr   error
		expectOutputs bool
	}{
		"error": {
			apply: func(context.Context, string) (*actions.Result, error) {
				return nil, errors.New("converter not installed")
			},
		},
		"panic": {
			apply: func(context.Context, string) (*actions.Result, error) {
				panic("boom")
			},
			expectedErr: dispatch.ErrActionPanicked,
		},
		"no result": {
			apply: func(context.Context, string) (*actions.Result, error) {
				return nil, nil
			},
			expectedErr: dispatch.ErrNoResult,
		},
		"partial outputs": {
			apply: func(_ context.Context, path string) (*actions.Result, error) {
				return actions.Applied(path, "a.jpg"), errors.New("one entry failed")
			},
			expectOutputs: true,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "photo.jpg")
			touchFile(t, path)

			rec := &recorder{}
			failing := newAction("failing", rec, tc.apply)
			next := newAction("next", rec, applied)

			report := newDispatcher(t, []actions.Action{failing, next}).Process(context.Background(), path)
			require.NotNil(t, report)

			assert.Equal(t, []string{"failing", "next"}, rec.Calls())
			assert.Equal(t, []actions.Status{actions.StatusFailed, actions.StatusApplied}, statuses(report))
			require.Len(t, report.Failures(), 1)
			failure := report.Failures()[0]
			assert.Equal(t, "failing", failure.Action)
			require.Error(t, failure.Err)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, failure.Err, tc.expectedErr)
			}
			if tc.expectOutputs {
				assert.Equal(t, []string{"a.jpg"}, failure.Outputs)
			}
			assert.Equal(t, path, report.FinalPath)
		})
	}
}

func TestProcessSkipsActionsThatDoNotApply(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	touchFile(t, path)

	notApplicable := newAction("livp-only", nil, applied)
	notApplicable.AppliesFunc = func(string) bool { return false }
	next := newAction("next", nil, applied)

	report := newDispatcher(t, []actions.Action{notApplicable, next}).Process(context.Background(), path)
	require.NotNil(t, report)

	assert.Empty(t, notApplicable.ApplyCalls())
	assert.Len(t, notApplicable.AppliesCalls(), 1)
	assert.Equal(t, []actions.Status{actions.StatusSkipped, actions.StatusApplied}, statuses(report))
	assert.Equal(t, "not applicable", report.Outcomes[0].Reason)
}

func TestProcessVanishedFile(t *testing.T) {
	t.Parallel()

	action := newAction("any", nil, applied)
	report := newDispatcher(t, []actions.Action{action}).Process(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"))
	require.NotNil(t, report)

	assert.True(t, report.Vanished)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, action.AppliesCalls())
}

func TestProcessCoalescesDuplicates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	touchFile(t, path)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	blocking := newAction("blocking", nil, func(_ context.Context, path string) (*actions.Result, error) {
		started <- struct{}{}
		<-release
		return actions.Applied(path), nil
	})
	d := newDispatcher(t, []actions.Action{blocking})

	done := make(chan *dispatch.Report)
	go func() {
		done <- d.Process(context.Background(), path)
	}()

	<-started
	assert.True(t, d.InFlight(path))

	// duplicates while the first run is in flight don't start a second concurrent run
	assert.Nil(t, d.Process(context.Background(), path))
	assert.Nil(t, d.Process(context.Background(), path))
	assert.Len(t, blocking.ApplyCalls(), 1)

	close(release)
	var report *dispatch.Report
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return")
	}

	require.NotNil(t, report)
	assert.Equal(t, 2, report.Reruns)
	assert.Len(t, blocking.ApplyCalls(), 2, "duplicates are coalesced into a single rerun")
	assert.False(t, d.InFlight(path))
}

func TestProcessSettleWindow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vacation.jpg")
	renamed := filepath.Join(dir, "250816_101431_vacation.jpg")
	touchFile(t, path)

	rename := newAction("rename", nil, func(context.Context, string) (*actions.Result, error) {
		require.NoError(t, os.Rename(path, renamed))
		return actions.Applied(renamed), nil
	})
	clk := clock.NewMock()
	d := newDispatcher(t, []actions.Action{rename}, dispatch.WithClock(clk), dispatch.WithSettleWindow(time.Minute))

	report := d.Process(context.Background(), path)
	require.NotNil(t, report)
	assert.Equal(t, renamed, report.FinalPath)

	// the create event of the renamed file is our own doing
	clk.Add(30 * time.Second)
	assert.Nil(t, d.Process(context.Background(), renamed))
	assert.Len(t, rename.ApplyCalls(), 1)

	clk.Add(31 * time.Second)
	rename.ApplyFunc = func(_ context.Context, path string) (*actions.Result, error) {
		return actions.Skipped(path, "already renamed"), nil
	}
	report = d.Process(context.Background(), renamed)
	require.NotNil(t, report)
	assert.Equal(t, []actions.Status{actions.StatusSkipped}, statuses(report))
}

func TestProcessMetricsAndTraces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	touchFile(t, path)

	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	ok := newAction("ok", nil, applied)
	failing := newAction("failing", nil, func(context.Context, string) (*actions.Result, error) {
		return nil, errors.New("boom")
	})
	d := newDispatcher(t, []actions.Action{ok, failing},
		dispatch.WithMetrics(metrics),
		dispatch.WithTracerProvider(tp),
	)

	require.NotNil(t, d.Process(context.Background(), path))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActionOutcomes.WithLabelValues("ok", "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActionOutcomes.WithLabelValues("failing", "failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	byName := make(map[string]tracetest.SpanStub)
	for _, s := range spans {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "pipeline")
	require.Contains(t, byName, "ok")
	require.Contains(t, byName, "failing")
	root := byName["pipeline"].SpanContext.SpanID()
	assert.Equal(t, root, byName["ok"].Parent.SpanID())
	assert.Equal(t, root, byName["failing"].Parent.SpanID())
	assert.Len(t, byName["failing"].Events, 1, "the error is recorded on the action span")
}

func TestProcessor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	touchFile(t, path)

	d := newDispatcher(t, []actions.Action{newAction("ok", nil, applied)})
	processor := d.Processor()

	out, drop, err := processor(context.Background(), &debounce.StabilizedFile{Path: path})
	require.NoError(t, err)
	assert.False(t, drop)
	report, ok := out.(*dispatch.Report)
	require.True(t, ok)
	assert.Equal(t, path, report.Path)

	_, drop, err = processor(context.Background(), &debounce.StabilizedFile{Path: filepath.Join(dir, "gone.jpg")})
	require.NoError(t, err)
	assert.True(t, drop)

	_, _, err = processor(context.Background(), "not a file")
	require.Error(t, err)

	sink := d.ReportSink()
	require.NoError(t, sink(context.Background(), report))
	require.Error(t, sink(context.Background(), 42))
}

func TestProcessKeepsReportOfRunThatMovedTheFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vacation.jpg")
	renamed := filepath.Join(dir, "250816_101431_vacation.jpg")
	touchFile(t, path)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	rename := newAction("rename", nil, func(_ context.Context, path string) (*actions.Result, error) {
		started <- struct{}{}
		<-release
		require.NoError(t, os.Rename(path, renamed))
		return actions.Applied(renamed), nil
	})
	d := newDispatcher(t, []actions.Action{rename})

	done := make(chan *dispatch.Report)
	go func() {
		done <- d.Process(context.Background(), path)
	}()

	<-started
	assert.Nil(t, d.Process(context.Background(), path))
	close(release)

	var report *dispatch.Report
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return")
	}

	require.NotNil(t, report)
	assert.False(t, report.Vanished)
	assert.Equal(t, renamed, report.FinalPath)
	assert.Equal(t, []actions.Status{actions.StatusApplied}, statuses(report))
	assert.Equal(t, 1, report.Reruns)
	assert.Len(t, rename.ApplyCalls(), 1, "the rerun finds the file gone and runs nothing")

	out, drop, err := d.Processor()(context.Background(), &debounce.StabilizedFile{Path: renamed})
	require.NoError(t, err)
	assert.True(t, drop, "settled after the rename")
	assert.Nil(t, out)
}

func TestProcessLogsEveryOutcome(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "vacation.jpg")
	renamed := filepath.Join(dir, "250816_101431_vacation.jpg")
	touchFile(t, path)

	convert := newAction("livp-to-jpg", nil, applied)
	convert.AppliesFunc = func(string) bool { return false }
	rename := newAction("rename-to-date", nil, func(context.Context, string) (*actions.Result, error) {
		return actions.Applied(renamed), nil
	})
	tag := newAction("tag", nil, func(_ context.Context, path string) (*actions.Result, error) {
		return actions.Skipped(path, "file no longer exists"), nil
	})
	broken := newAction("broken", nil, func(context.Context, string) (*actions.Result, error) {
		return nil, errors.New("permission denied")
	})

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reg, err := actions.NewRegistry(convert, rename, tag, broken)
	require.NoError(t, err)
	d := dispatch.New(logger, reg)

	report := d.Process(context.Background(), path)
	require.NotNil(t, report)
	require.NoError(t, d.ReportSink()(context.Background(), report))

	byAction := make(map[string]*logrus.Entry)
	var summary *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if name, ok := entry.Data["action"].(string); ok {
			byAction[name] = entry
		}
		if _, ok := entry.Data["actions"]; ok {
			summary = entry
		}
	}

	cases := map[string]struct {
		level  logrus.Level
		path   string
		status actions.Status
		reason string
	}{
		"rename-to-date": {level: logrus.InfoLevel, path: path, status: actions.StatusApplied},
		"tag":            {level: logrus.InfoLevel, path: renamed, status: actions.StatusSkipped, reason: "file no longer exists"},
		"broken":         {level: logrus.ErrorLevel, path: renamed, status: actions.StatusFailed},
	}
	for name, tc := range cases {
		entry, ok := byAction[name]
		require.True(t, ok, name)
		assert.Equal(t, tc.level, entry.Level, name)
		assert.Equal(t, tc.path, entry.Data["path"], name)
		assert.Equal(t, tc.status, entry.Data["status"], name)
		if tc.reason != "" {
			assert.Equal(t, tc.reason, entry.Data["reason"], name)
		}
	}
	assert.Equal(t, renamed, byAction["rename-to-date"].Data["new_path"])
	assert.Contains(t, byAction["broken"].Data[logrus.ErrorKey].(error).Error(), "permission denied")

	// an action that doesn't apply to the file only shows up in verbose output
	assert.Equal(t, logrus.DebugLevel, byAction["livp-to-jpg"].Level)

	require.NotNil(t, summary)
	assert.Equal(t, logrus.WarnLevel, summary.Level)
	assert.Equal(t,
		[]string{"livp-to-jpg=skipped", "rename-to-date=applied", "tag=skipped", "broken=failed"},
		summary.Data["actions"],
	)
}
