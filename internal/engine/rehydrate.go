package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// RehydrationReport — итог восстановления состояния при старте.
type RehydrationReport struct {
	Queues       int                  `json:"queues"`
	ResetJobs    int                  `json:"reset_jobs"`
	ArchivedJobs int                  `json:"archived_jobs"`
	LoadedJobs   int                  `json:"loaded_jobs"`
	Degraded     map[uuid.UUID]string `json:"degraded,omitempty"`
}

// staleStatuses — статусы, в которых job не может остаться после смерти
// владевшего им actor'а.
var staleStatuses = []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusFailed}

// recoverStale переводит зависший job в состояние, с которого actor
// может продолжить. RUNNING возвращается в PENDING без расхода попытки.
// FAILED означает, что решение о retry не было записано: оно
// принимается сейчас по тем же правилам, что и в actor'е.
// Возвращает true, если job архивирован.
func recoverStale(job *domain.Job, backoff Backoff, now time.Time) bool {
	if job.Status != domain.JobStatusFailed {
		job.ResetForRehydration(now)
		return false
	}
	if job.CanRetry() {
		job.ScheduleRetry(now, backoff.Delay(job.RetryCount))
		return false
	}
	job.MarkArchived(now)
	return true
}

// settleStale записывает восстановленный job. Для архивированного
// job история пишется best-effort.
func settleStale(ctx context.Context, store repo.Store, job *domain.Job, backoff Backoff, now time.Time) (bool, error) {
	archived := recoverStale(job, backoff, now)
	if err := store.UpdateJob(ctx, job); err != nil {
		return false, err
	}
	if archived {
		_ = store.AppendHistory(ctx, domain.NewHistoryEntry(job))
	}
	return archived, nil
}

// rehydrate восстанавливает очереди из хранилища.
//
// Порядок:
//  1. RUNNING jobs возвращаются в PENDING (процесс, выполнявший их, умер);
//     FAILED jobs получают отложенный retry или архивируются
//  2. Для каждой очереди загружаются PENDING jobs и счётчики
//  3. Для каждой очереди запускается actor
//
// Ошибка загрузки одной очереди не останавливает старт: очередь
// помечается degraded. Ошибка чтения списка очередей фатальна.
func (s *Supervisor) rehydrate(ctx context.Context) (*RehydrationReport, error) {
	report := &RehydrationReport{Degraded: make(map[uuid.UUID]string)}
	now := s.now()
	backoff := s.cfg.backoff()

	failed := make(map[uuid.UUID]string)

	for _, status := range staleStatuses {
		stale, err := s.store.ListJobs(ctx, repo.JobFilter{Status: status})
		if err != nil {
			return report, fmt.Errorf("%w: list %s jobs: %w", ErrPersistence, status, err)
		}
		for i := range stale {
			job := &stale[i]
			if _, ok := failed[job.QueueID]; ok {
				continue
			}
			archived, err := settleStale(ctx, s.store, job, backoff, now)
			if err != nil {
				failed[job.QueueID] = fmt.Sprintf("reset job %s: %v", job.ID, err)
				continue
			}
			if archived {
				report.ArchivedJobs++
				continue
			}
			report.ResetJobs++
		}
	}

	queues, err := s.store.ListQueues(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: list queues: %w", ErrPersistence, err)
	}

	for i := range queues {
		queue := &queues[i]
		report.Queues++

		if reason, ok := failed[queue.ID]; ok {
			s.addDegraded(queue, reason)
			report.Degraded[queue.ID] = reason
			continue
		}

		snap, err := loadSnapshot(ctx, s.store, queue.ID, nil, now)
		if err != nil {
			reason := fmt.Sprintf("load: %v", err)
			s.addDegraded(queue, reason)
			report.Degraded[queue.ID] = reason
			continue
		}
		report.LoadedJobs += len(snap.pending)
		s.spawn(snap)
	}

	for id, reason := range report.Degraded {
		s.logger.Error("queue degraded during rehydration", "queue_id", id, "reason", reason)
	}
	return report, nil
}

// loadSnapshot читает состояние очереди из хранилища. С непустым backoff
// зависшие RUNNING и FAILED jobs очереди сначала восстанавливаются.
func loadSnapshot(ctx context.Context, store repo.Store, queueID uuid.UUID, backoff *Backoff, now time.Time) (*actorSnapshot, error) {
	queue, err := store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}

	snap := &actorSnapshot{queue: queue}

	if backoff != nil {
		for _, status := range staleStatuses {
			stale, err := store.ListJobs(ctx, repo.JobFilter{QueueID: &queueID, Status: status})
			if err != nil {
				return nil, fmt.Errorf("list %s jobs: %w", status, err)
			}
			for i := range stale {
				if _, err := settleStale(ctx, store, &stale[i], *backoff, now); err != nil {
					return nil, fmt.Errorf("reset job %s: %w", stale[i].ID, err)
				}
				snap.reset++
			}
		}
	}

	pending, err := store.ListJobs(ctx, repo.JobFilter{QueueID: &queueID, Status: domain.JobStatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	snap.pending = pending

	counts, err := store.CountJobs(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	snap.counts = counts
	return snap, nil
}
