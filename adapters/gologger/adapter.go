package gologger

import (
	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// DefaultLoggerName is the named logger the marketplace service resolves for
// itself, so host wiring and service logs share one channel.
const DefaultLoggerName = "marketplace"

// Resolve picks the marketplace logger with provider > logger > nop
// precedence under the service's logger name.
func Resolve(provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(DefaultLoggerName, provider, logger)
}

// JobLogging resolves the marketplace logger and bridges it into go-job's
// contracts for a refresh queue worker.
func JobLogging(provider glog.LoggerProvider, logger glog.Logger) (job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(provider, logger)
	return job.GoLoggerProvider(resolvedProvider), job.GoLogger(resolvedLogger)
}
