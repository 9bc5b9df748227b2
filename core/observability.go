package core

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// metricTagKeys are promoted from log fields to metric tags. High
// cardinality identifiers stay in logs only.
var metricTagKeys = []string{"integration_id", "event_type", "auth_method", "outcome"}

type logLevel func(logger Logger, msg string, args ...any)

// observeOperation records one service operation as a counter, a duration
// histogram and a log line. Successes log at debug, failures at error.
func (s *Service) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	elapsed := time.Since(startedAt)
	status := "success"
	if err != nil {
		status = "failure"
	}

	logFields := maps.Clone(fields)
	if logFields == nil {
		logFields = map[string]any{}
	}
	logFields["operation"] = operation
	logFields["status"] = status
	logFields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		logFields["error"] = err.Error()
	}

	if s.metricsRecorder != nil {
		tags := operationTags(operation, status, logFields)
		s.metricsRecorder.IncCounter(ctx, "marketplace."+operation+".total", 1, maps.Clone(tags))
		s.metricsRecorder.ObserveHistogram(ctx, "marketplace."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)
	}

	if err != nil {
		s.emit(ctx, Logger.Error, operation+" failed", logFields)
		return
	}
	s.emit(ctx, Logger.Debug, operation+" succeeded", logFields)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.emit(ctx, Logger.Warn, message, fields)
}

// emit redacts fields and hands them to the logger both as bound fields, when
// it supports them, and as sorted key/value args.
func (s *Service) emit(ctx context.Context, level logLevel, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	fields = RedactSensitiveMap(fields)
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	level(logger, message, flattenFields(fields)...)
}

func operationTags(operation string, status string, fields map[string]any) map[string]string {
	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range metricTagKeys {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			tags[key] = text
		}
	}
	return tags
}

func flattenFields(fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	operation = strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
	if operation == "" {
		return "unknown"
	}
	return operation
}
