// Package logger derives job and trace scoped loggers from a base logger.
package logger

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runKey struct{}

type runInfo struct {
	job   string
	runID string
}

// ContextWithRun tags ctx with the scheduler job and run id.
func ContextWithRun(ctx context.Context, job, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runInfo{job: strings.TrimSpace(job), runID: strings.TrimSpace(runID)})
}

// RunFromContext returns the job and run id stored by ContextWithRun.
func RunFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	info, _ := ctx.Value(runKey{}).(runInfo)
	return info.job, info.runID
}

// FromContext enriches the global logger with correlation fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds run and trace correlation fields to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	fields := traceFieldsFromContext(ctx)
	if job, runID := RunFromContext(ctx); job != "" {
		fields = append(fields, zap.String("job", job), zap.String("run_id", runID))
	}
	return base.With(fields...)
}

func traceFieldsFromContext(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
