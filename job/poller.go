package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"canvascast/apperr"
	"canvascast/logger"
	"canvascast/metrics"
)

const component = "job"

// DefaultInterval is the wait between two status checks.
const DefaultInterval = 3 * time.Second

// CheckFunc fetches the current status of a job.
type CheckFunc func(ctx context.Context, jobID string) (*JobStatus, error)

// Poller waits for one job to finish. A Poller is single use.
type Poller struct {
	check    CheckFunc
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics

	used       atomic.Bool
	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func NewPoller(check CheckFunc, interval time.Duration, log *slog.Logger, m *metrics.Metrics) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		check:    check,
		interval: interval,
		log:      logger.OrDefault(log).With("component", component),
		metrics:  m,
		cancelCh: make(chan struct{}),
	}
}

// Cancel stops polling at the next decision point. A check already in flight
// runs to completion and its result is discarded. Cancel is idempotent.
func (p *Poller) Cancel() {
	p.cancelOnce.Do(func() {
		p.cancelled.Store(true)
		close(p.cancelCh)
	})
}

func cancelledErr(cause error) error {
	if cause == nil {
		return apperr.New(apperr.KindCancelled, component, "poll", "polling cancelled")
	}
	return apperr.Wrap(apperr.KindCancelled, component, "poll", cause)
}

// PollUntilComplete checks jobID immediately and then every interval until the
// job is terminal. onUpdate sees every observed status, in order, before the
// poller decides whether to continue. It returns the Succeeded status or an
// error of kind RemoteJob (job failed or the check failed) or Cancelled.
func (p *Poller) PollUntilComplete(ctx context.Context, jobID string, onUpdate func(JobStatus)) (*JobStatus, error) {
	if !p.used.CompareAndSwap(false, true) {
		return nil, apperr.New(apperr.KindBusy, component, "poll", "poller already in use")
	}
	log := p.log.With("job", jobID)
	h := NewHandle(jobID)

	for attempt := 1; ; attempt++ {
		if p.cancelled.Load() {
			return nil, cancelledErr(nil)
		}
		if err := ctx.Err(); err != nil {
			return nil, cancelledErr(err)
		}

		st, err := p.check(ctx, jobID)
		p.metrics.IncJobPolls()
		if p.cancelled.Load() {
			log.Debug("discarding status check finished after cancel", "attempt", attempt)
			return nil, cancelledErr(nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelledErr(ctx.Err())
			}
			log.Warn("status check failed", "attempt", attempt, "error", err)
			return nil, apperr.Wrap(apperr.KindRemoteJob, component, "check status", err)
		}
		if st == nil {
			return nil, apperr.Wrap(apperr.KindRemoteJob, component, "check status", errors.New("empty status response"))
		}

		observed := *st
		if observed.TaskID == "" {
			observed.TaskID = jobID
		}
		if !h.Observe(observed) {
			log.Debug("ignoring out-of-order status", "status", string(observed.Status), "current", string(h.Status()))
		}
		if onUpdate != nil {
			onUpdate(observed)
		}

		switch h.Status() {
		case StatusSucceeded:
			log.Info("job succeeded", "attempts", attempt, "result_url", h.ResultURL())
			res := h.Snapshot()
			return &res, nil
		case StatusFailed:
			reason := h.Error()
			if reason == "" {
				reason = "remote job failed"
			}
			log.Warn("job failed", "attempts", attempt, "error", reason)
			return nil, apperr.New(apperr.KindRemoteJob, component, "poll", reason)
		}
		log.Debug("job not finished", "status", string(h.Status()), "progress", h.Progress())
		if p.cancelled.Load() {
			return nil, cancelledErr(nil)
		}

		wait := time.NewTimer(p.interval)
		select {
		case <-wait.C:
		case <-p.cancelCh:
			wait.Stop()
			return nil, cancelledErr(nil)
		case <-ctx.Done():
			wait.Stop()
			return nil, cancelledErr(ctx.Err())
		}
	}
}
