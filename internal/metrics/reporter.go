// Package metrics runs the periodic status reporter described by the
// indexer core's status contract: at a fixed interval it logs the
// running mail/indexing/download counters until stopped.
package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/logging"
)

// StatusReporter is anything that can print its current counters, the
// contract indexcore.Core satisfies.
type StatusReporter interface {
	PrintStatus()
}

// Reporter periodically calls PrintStatus on a StatusReporter.
type Reporter struct {
	target   StatusReporter
	interval time.Duration
	log      *logrus.Logger
}

// NewReporter builds a Reporter with a default one-minute interval.
func NewReporter(target StatusReporter) *Reporter {
	return &Reporter{target: target, interval: time.Minute, log: logging.For(logging.Main)}
}

// WithInterval overrides the default reporting interval.
func (r *Reporter) WithInterval(d time.Duration) *Reporter {
	r.interval = d
	return r
}

// Run blocks, reporting status every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("intervalSeconds", r.interval.Seconds()).Info("status reporter started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("status reporter stopped")
			return
		case <-ticker.C:
			r.target.PrintStatus()
		}
	}
}
