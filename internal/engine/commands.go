package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/worker"
)

const cancelReasonRequested = "cancelled by request"

// command — сообщение в mailbox actor'а. apply выполняется в горутине actor'а.
type command interface {
	apply(a *queueActor)
}

// reply — ответ actor'а на запрос.
type reply[T any] struct {
	val T
	err error
}

// respond отправляет ответ. Канал ответа всегда буферизирован (1).
func respond[T any](ch chan reply[T], val T, err error) {
	ch <- reply[T]{val: val, err: err}
}

// --- Enqueue ---

type enqueueCmd struct {
	job   *domain.Job
	reply chan reply[*domain.Job]
}

func (c *enqueueCmd) apply(a *queueActor) {
	if err := a.checkCapacity(); err != nil {
		respond(c.reply, nil, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
	defer cancel()
	if err := a.store.CreateJob(ctx, c.job); err != nil {
		a.metrics.PersistenceError(a.queue.Name)
		respond(c.reply, nil, fmt.Errorf("%w: create job: %w", ErrPersistence, err))
		return
	}

	now := a.now()
	a.pending.Push(c.job, now)
	a.metrics.JobEvent(a.queue.Name, "enqueued")
	a.publish(domain.NewJobEvent(domain.EventJobCreated, c.job, now))

	a.logger.Debug("job enqueued",
		"job_id", c.job.ID,
		"job_type", c.job.Type,
		"priority", c.job.Priority,
	)
	respond(c.reply, c.job.Clone(), nil)
}

// --- Cancel ---

type cancelCmd struct {
	jobID  uuid.UUID
	reason string
	reply  chan reply[struct{}]
}

func (c *cancelCmd) apply(a *queueActor) {
	reason := c.reason
	if reason == "" {
		reason = cancelReasonRequested
	}

	if job, ok := a.pending.Get(c.jobID); ok {
		now := a.now()
		next := job.Clone()
		next.MarkCancelled(now, reason)
		if err := a.persist(next); err != nil {
			a.metrics.PersistenceError(a.queue.Name)
			respond(c.reply, struct{}{}, fmt.Errorf("%w: cancel job: %w", ErrPersistence, err))
			return
		}
		a.pending.Remove(c.jobID)
		a.cancelled++
		a.recordTerminal(next, "cancelled")

		ev := domain.NewJobEvent(domain.EventJobCancelled, next, now)
		ev.Reason = reason
		a.publish(ev)

		a.logger.Info("pending job cancelled", "job_id", c.jobID)
		respond(c.reply, struct{}{}, nil)
		return
	}

	if ex, ok := a.running[c.jobID]; ok {
		if !ex.cancelRequested {
			ex.cancelRequested = true
			ex.cancelReason = reason
			ex.cancel(worker.ErrCancelRequested)
			a.logger.Info("cancellation requested for running job", "job_id", c.jobID)
		}
		respond(c.reply, struct{}{}, nil)
		return
	}

	respond(c.reply, struct{}{}, fmt.Errorf("%w: job %s is neither pending nor running", ErrInvalidState, c.jobID))
}

// --- Manual retry ---

type retryCmd struct {
	job   *domain.Job
	reply chan reply[*domain.Job]
}

func (c *retryCmd) apply(a *queueActor) {
	if _, ok := a.pending.Get(c.job.ID); ok {
		respond(c.reply, nil, fmt.Errorf("%w: job %s is already pending", ErrInvalidState, c.job.ID))
		return
	}
	if _, ok := a.running[c.job.ID]; ok {
		respond(c.reply, nil, fmt.Errorf("%w: job %s is running", ErrInvalidState, c.job.ID))
		return
	}
	if err := a.checkCapacity(); err != nil {
		respond(c.reply, nil, err)
		return
	}

	now := a.now()
	prev := c.job.Status
	next := c.job.Clone()
	next.ResetForManualRetry(now)
	if err := a.persist(next); err != nil {
		a.metrics.PersistenceError(a.queue.Name)
		respond(c.reply, nil, fmt.Errorf("%w: retry job: %w", ErrPersistence, err))
		return
	}

	switch prev {
	case domain.JobStatusArchived:
		a.archived--
	case domain.JobStatusCancelled:
		a.cancelled--
	}
	a.pending.Push(next, now)
	a.metrics.JobEvent(a.queue.Name, "retried")

	ev := domain.NewJobEvent(domain.EventJobRetried, next, now)
	ev.Manual = true
	a.publish(ev)

	a.logger.Info("job re-queued manually", "job_id", next.ID, "previous_status", prev)
	respond(c.reply, next.Clone(), nil)
}

// --- Run-state ---

type setStateCmd struct {
	state domain.QueueState
	reply chan reply[*domain.Queue]
}

func (c *setStateCmd) apply(a *queueActor) {
	if a.queue.State == c.state {
		respond(c.reply, a.queue.Clone(), nil)
		return
	}

	now := a.now()
	next := a.queue.Clone()
	next.State = c.state
	next.UpdatedAt = now

	ctx, cancel := context.WithTimeout(context.Background(), a.storeTimeout)
	defer cancel()
	if err := a.store.UpdateQueue(ctx, next); err != nil {
		a.metrics.PersistenceError(a.queue.Name)
		respond(c.reply, nil, fmt.Errorf("%w: update queue: %w", ErrPersistence, err))
		return
	}
	a.queue = next

	ev := domain.NewQueueEvent(domain.EventQueueStateChanged, next.ID, now)
	ev.State = next.State
	a.publish(ev)

	a.logger.Info("queue state changed", "state", next.State)
	respond(c.reply, next.Clone(), nil)
}

// --- Queries ---

type statsCmd struct {
	reply chan reply[domain.QueueStats]
}

func (c *statsCmd) apply(a *queueActor) {
	respond(c.reply, a.stats(a.now()), nil)
}

type infoCmd struct {
	reply chan reply[*domain.Queue]
}

func (c *infoCmd) apply(a *queueActor) {
	respond(c.reply, a.queue.Clone(), nil)
}

// --- Lifecycle ---

// stopCmd переводит actor в режим остановки: новые jobs не запускаются,
// actor завершается, когда выполняющиеся jobs зафиксированы.
type stopCmd struct{}

func (stopCmd) apply(a *queueActor) {
	if !a.stopping {
		a.stopping = true
		a.logger.Info("queue actor draining", "running", len(a.running))
	}
}

// jobFinished — внутренняя команда от горутины выполнения.
type jobFinished struct {
	jobID   uuid.UUID
	outcome worker.Outcome
}

func (c *jobFinished) apply(a *queueActor) {
	ex, ok := a.running[c.jobID]
	if !ok {
		return
	}
	s := &settlement{exec: ex, outcome: c.outcome}
	if !a.settle(s) {
		a.unsettled = append(a.unsettled, s)
	}
}
