package telemetry

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// TraceHook ties log lines to the pipeline run they belong to. Entries logged through WithContext inside a
// run get the trace_id of the file's pipeline span and the span_id of the action span, if one is active.
type TraceHook struct{}

func (h *TraceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TraceHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}

	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()

	return nil
}
