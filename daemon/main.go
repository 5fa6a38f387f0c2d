package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hedisam/photoprep/daemon/actions"
	"github.com/hedisam/photoprep/daemon/config"
	"github.com/hedisam/photoprep/daemon/debounce"
	"github.com/hedisam/photoprep/daemon/dispatch"
	"github.com/hedisam/photoprep/daemon/filesystem"
	"github.com/hedisam/photoprep/daemon/filesystem/watch"
	"github.com/hedisam/photoprep/daemon/telemetry"
	"github.com/hedisam/photoprep/daemon/tools"
	"github.com/hedisam/pipeline"
	"github.com/hedisam/pipeline/chans"
	"github.com/hedisam/pipeline/stage"
)

const (
	appName = "photoprep"
)

func main() {
	logger := logrus.New()
	logger.AddHook(&telemetry.TraceHook{})

	opts, err := config.Load(os.Args[0], os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	err = filesystem.CheckRoot(opts.WatchDir)
	if err != nil {
		logger.WithError(err).WithField("root_dir", opts.WatchDir).Fatal("Invalid watch directory")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown := mustInitTracer(logger, opts)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracer")
		}
	}()

	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to register metrics")
	}

	registry := mustBuildRegistry(logger, opts)

	debouncer := debounce.New(logger, opts.Debounce, debounce.WithPendingGauge(metrics.DebouncePending))
	defer debouncer.Close()

	matcher, err := opts.Matcher()
	if err != nil {
		logger.WithError(err).Fatal("Invalid ignore patterns")
	}

	watcher, err := watch.New(logger, matcher, debouncer, watch.WithEventCounter(metrics.WatchEvents))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize file watcher")
	}
	defer watcher.Close()

	// register every directory (and report the files already there) before consuming events
	var notifier filesystem.Notifier
	if opts.InitialScan {
		notifier = debouncer
	}
	err = filesystem.Walk(ctx, logger, opts.WatchDir, matcher, watcher, notifier)
	if err != nil {
		logger.WithError(err).Fatal("Failed to walk watch directory")
	}
	go watcher.Start(ctx)

	dispatcher := dispatch.New(logger, registry,
		dispatch.WithSettleWindow(opts.SettleWindow),
		dispatch.WithMetrics(metrics),
	)

	var errorChans []<-chan error

	// stabilized files run concurrently across workers, actions of a single file never do
	filesPipeline := pipeline.NewPipeline(debouncer, dispatcher.ReportSink())
	errorChans = append(errorChans, filesPipeline.RunAsync(ctx,
		stage.WorkerPoolRunner(uint(opts.Workers), dispatcher.Processor()),
	))

	if opts.MetricsAddr != "" {
		errorChans = append(errorChans, serveMetrics(ctx, logger, opts.MetricsAddr, reg))
	}

	logger.WithFields(logrus.Fields{
		"root_dir": opts.WatchDir,
		"actions":  registry.Names(),
		"debounce": opts.Debounce,
		"workers":  opts.Workers,
	}).Info("Watching for new files")

	asyncErr := <-chans.FanIn(ctx, errorChans...)
	if asyncErr != nil {
		logger.WithError(asyncErr).Error("Received async error, shutting down...")
		return
	}
	logger.Info("Shutting down")
}

func mustBuildRegistry(logger *logrus.Logger, opts *config.Options) *actions.Registry {
	var extractor actions.Extractor = tools.NewZipExtractor(logger)
	if opts.Extractor == config.ExtractorCommand {
		cmdExtractor, err := tools.NewCommandExtractor(logger, opts.ExtractCommand, opts.ToolTimeout)
		if err != nil {
			logger.WithError(err).Fatal("Invalid extract command")
		}
		extractor = cmdExtractor
	}

	converter, err := tools.NewCommandConverter(logger, opts.ConvertCommand, opts.ToolTimeout)
	if err != nil {
		logger.WithError(err).Fatal("Invalid convert command")
	}

	// the conversion derives output names from the container's original name, so it has to run before the rename
	registry, err := actions.NewRegistry(
		actions.NewLivpToJPG(logger, opts.LivpConfig(), extractor, converter),
		actions.NewRenameToDate(logger),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to register actions")
	}

	return registry
}

func serveMetrics(ctx context.Context, logger *logrus.Logger, addr string, g prometheus.Gatherer) <-chan error {
	errCh := make(chan error, 1)
	srv := &http.Server{
		Addr:              addr,
		Handler:           telemetry.MetricsHandler(appName, g),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		defer close(errCh)
		logger.WithField("addr", addr).Info("Serving metrics")
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh
}

func mustInitTracer(logger *logrus.Logger, opts *config.Options) func(context.Context) error {
	var w io.Writer = io.Discard
	if opts.Trace {
		w = os.Stdout
	}

	tp, err := telemetry.NewTracerProvider(appName, w, attribute.String("watch_dir", opts.WatchDir))
	if err != nil {
		logger.WithError(err).Fatal("Failed to register trace provider")
	}

	return tp.Shutdown
}
