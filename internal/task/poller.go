package task

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deepfocal/taskwatch/internal/analysis"
	"github.com/deepfocal/taskwatch/internal/domain"
	"github.com/deepfocal/taskwatch/internal/redact"
	"github.com/deepfocal/taskwatch/internal/registry"
)

// outcomeType classifies how a poller stopped.
type outcomeType int

const (
	outcomeSucceeded outcomeType = iota
	outcomeFailed
	outcomeTimedOut
	// outcomeAbandoned means the poller stopped without a task outcome:
	// shutdown, or its record left the registry by other means.
	outcomeAbandoned
)

// pollOutcome is what a poller hands back to the coordinator.
type pollOutcome struct {
	typ        outcomeType
	subjectKey string
	taskID     string
	kind       domain.Kind
	iterations int
	// detail is the last response, nil on transport failure.
	detail *domain.TaskDetail
	err    error
}

// poller polls one task until it reaches a terminal status or the schedule
// is exhausted. It is the only writer of its task's record.
type poller struct {
	client   analysis.Client
	registry *registry.Registry
	clock    Clock
	schedule Schedule
	logger   *slog.Logger

	subjectKey string
	taskID     string
	kind       domain.Kind
}

func newPoller(
	client analysis.Client,
	reg *registry.Registry,
	clock Clock,
	schedule Schedule,
	rec domain.TaskRecord,
	logger *slog.Logger,
) *poller {
	return &poller{
		client:     client,
		registry:   reg,
		clock:      clock,
		schedule:   schedule,
		subjectKey: rec.SubjectKey,
		taskID:     rec.TaskID,
		kind:       rec.Kind,
		logger: logger.With(
			"subject_key", rec.SubjectKey,
			"task_id", rec.TaskID,
			"kind", rec.Kind),
	}
}

// run polls immediately, then after each scheduled interval. It returns when
// the task leaves the live states or ctx is cancelled.
func (p *poller) run(ctx context.Context) pollOutcome {
	out := pollOutcome{subjectKey: p.subjectKey, taskID: p.taskID, kind: p.kind}

	for iteration := 1; ; iteration++ {
		out.iterations = iteration

		detail, err := p.client.TaskDetail(ctx, p.taskID)
		if err != nil {
			if ctx.Err() != nil {
				out.typ = outcomeAbandoned
				return out
			}
			p.logger.Warn("status poll failed", "iteration", iteration, "error", redact.Error(err))
			out.typ = outcomeFailed
			out.err = err
			return out
		}
		out.detail = detail

		if !p.apply(detail) {
			p.logger.Debug("record no longer live, stopping poller", "iteration", iteration)
			out.typ = outcomeAbandoned
			return out
		}

		switch {
		case detail.Status == domain.StatusSuccess:
			out.typ = outcomeSucceeded
			return out
		case detail.Status.IsFailed():
			out.typ = outcomeFailed
			out.err = &domain.RemoteFailureError{
				TaskID:  p.taskID,
				Status:  detail.Status,
				Message: detail.FailureMessage(),
			}
			return out
		}

		if p.schedule.Exhausted(iteration) {
			p.logger.Warn("task still running after iteration cap", "iteration", iteration)
			out.typ = outcomeTimedOut
			out.err = domain.ErrPollTimeout
			return out
		}

		wait := p.schedule.Interval(iteration)
		p.logger.Debug("task still running",
			"iteration", iteration,
			"status", detail.Status,
			"raw_status", detail.RawStatus,
			"next_poll_ms", wait.Milliseconds())

		select {
		case <-ctx.Done():
			out.typ = outcomeAbandoned
			return out
		case <-p.clock.After(wait):
		}
	}
}

// apply merges detail into this poller's record. It reports false when the
// subject no longer tracks this task.
func (p *poller) apply(detail *domain.TaskDetail) bool {
	owned := false
	p.registry.Update(p.subjectKey, func(rec *domain.TaskRecord) {
		if rec.TaskID != p.taskID {
			return
		}
		owned = true
		rec.Apply(detail)
	})
	return owned
}

// isTransport reports whether the outcome came from a transport failure
// rather than a server-reported status.
func (o pollOutcome) isTransport() bool {
	return errors.Is(o.err, domain.ErrTransport)
}
