package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const RootLoggerName = "marketplace"

// ComponentName nests component under the root logger name, so "webhooks"
// becomes "marketplace.webhooks".
func ComponentName(component string) string {
	component = strings.Trim(strings.TrimSpace(component), ".")
	if component == "" {
		return RootLoggerName
	}
	return RootLoggerName + "." + component
}

// ForComponent resolves a component logger with provider taking precedence
// over logger. It never returns nil.
func ForComponent(provider glog.LoggerProvider, logger glog.Logger, component string) glog.Logger {
	_, resolved := glog.Resolve(ComponentName(component), provider, logger)
	return glog.Ensure(resolved)
}

// ForJob resolves like ForComponent and bridges the result to the go-job
// logging contracts used by go-job workers and queues.
func ForJob(provider glog.LoggerProvider, logger glog.Logger, component string) (job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := glog.Resolve(ComponentName(component), provider, logger)
	var jobProvider job.LoggerProvider
	if resolvedProvider != nil {
		jobProvider = job.GoLoggerProvider(resolvedProvider)
	}
	return jobProvider, job.GoLogger(glog.Ensure(resolvedLogger))
}
