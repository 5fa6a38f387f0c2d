package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hedisam/photoprep/daemon/actions"
	"github.com/hedisam/photoprep/daemon/debounce"
	"github.com/hedisam/pipeline"
	"github.com/hedisam/pipeline/stage"
)

// Processor runs the dispatcher on the stabilized files coming out of the debouncer. Files that weren't run
// (coalesced, settled or gone) are dropped from the pipeline.
func (d *Dispatcher) Processor() stage.Processor {
	return func(ctx context.Context, payload any) (out any, drop bool, err error) {
		file, ok := payload.(*debounce.StabilizedFile)
		if !ok {
			return nil, false, fmt.Errorf("invalid payload type received by dispatcher: %T", payload)
		}

		report := d.Process(ctx, file.Path)
		if report == nil || report.Vanished {
			return nil, true, nil
		}

		return report, false, nil
	}
}

// ReportSink logs one summary line per processed file.
func (d *Dispatcher) ReportSink() pipeline.Sink {
	return func(ctx context.Context, out any) error {
		report, ok := out.(*Report)
		if !ok {
			return fmt.Errorf("invalid report received by output sink: %T", out)
		}

		logger := d.logger.WithContext(ctx).WithFields(logrus.Fields{
			"path":    report.Path,
			"run_id":  report.RunID,
			"applied": report.Count(actions.StatusApplied),
			"skipped": report.Count(actions.StatusSkipped),
			"failed":  report.Count(actions.StatusFailed),
		})
		if report.FinalPath != report.Path {
			logger = logger.WithField("final_path", report.FinalPath)
		}
		if names := outcomeSummary(report); len(names) > 0 {
			logger = logger.WithField("actions", names)
		}
		if report.Reruns > 0 {
			logger = logger.WithField("reruns", report.Reruns)
		}

		if len(report.Failures()) > 0 {
			logger.Warn("Processed file with failures")
			return nil
		}
		logger.Info("Processed file")
		return nil
	}
}

// outcomeSummary renders each outcome as action=status, in run order.
func outcomeSummary(report *Report) []string {
	summary := make([]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		summary = append(summary, o.Action+"="+string(o.Status))
	}
	return summary
}
