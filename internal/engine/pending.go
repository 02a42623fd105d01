package engine

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// pendingItem — job в pending set.
type pendingItem struct {
	job   *domain.Job
	seq   uint64
	index int
}

// readyHeap упорядочен по priority (desc), created_at (asc), seq (asc).
type readyHeap []*pendingItem

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i].job, h[j].job
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x any) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// delayedHeap упорядочен по not_before.
type delayedHeap []*pendingItem

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	a, b := h[i].job.NotBefore, h[j].job.NotBefore
	if !a.Equal(*b) {
		return a.Before(*b)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// pendingSet — jobs очереди, ожидающие выполнения.
//
// Jobs с not_before в будущем лежат в delayed и переходят в ready
// при Promote. Не потокобезопасен: принадлежит одному actor'у.
type pendingSet struct {
	ready   readyHeap
	delayed delayedHeap
	items   map[uuid.UUID]*pendingItem
	delay   map[uuid.UUID]bool
	seq     uint64
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		items: make(map[uuid.UUID]*pendingItem),
		delay: make(map[uuid.UUID]bool),
	}
}

// Push добавляет job. Повторный Push того же ID заменяет запись.
func (p *pendingSet) Push(job *domain.Job, now time.Time) {
	p.Remove(job.ID)

	p.seq++
	item := &pendingItem{job: job, seq: p.seq}
	p.items[job.ID] = item

	if job.NotBefore != nil && job.NotBefore.After(now) {
		p.delay[job.ID] = true
		heap.Push(&p.delayed, item)
		return
	}
	heap.Push(&p.ready, item)
}

// Promote переносит jobs, чей not_before наступил, в ready.
func (p *pendingSet) Promote(now time.Time) {
	for p.delayed.Len() > 0 {
		next := p.delayed[0]
		if next.job.NotBefore.After(now) {
			return
		}
		heap.Pop(&p.delayed)
		delete(p.delay, next.job.ID)
		heap.Push(&p.ready, next)
	}
}

// Peek возвращает следующий готовый job без извлечения.
func (p *pendingSet) Peek() *domain.Job {
	if p.ready.Len() == 0 {
		return nil
	}
	return p.ready[0].job
}

// Pop извлекает следующий готовый job.
func (p *pendingSet) Pop() *domain.Job {
	if p.ready.Len() == 0 {
		return nil
	}
	item := heap.Pop(&p.ready).(*pendingItem)
	delete(p.items, item.job.ID)
	return item.job
}

// Get возвращает job по ID.
func (p *pendingSet) Get(id uuid.UUID) (*domain.Job, bool) {
	item, ok := p.items[id]
	if !ok {
		return nil, false
	}
	return item.job, true
}

// Remove удаляет job по ID и возвращает его.
func (p *pendingSet) Remove(id uuid.UUID) *domain.Job {
	item, ok := p.items[id]
	if !ok {
		return nil
	}
	delete(p.items, id)
	if p.delay[id] {
		delete(p.delay, id)
		heap.Remove(&p.delayed, item.index)
	} else {
		heap.Remove(&p.ready, item.index)
	}
	return item.job
}

// NextDue возвращает ближайший not_before среди отложенных jobs.
func (p *pendingSet) NextDue() (time.Time, bool) {
	if p.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return *p.delayed[0].job.NotBefore, true
}

// Len возвращает общее число jobs.
func (p *pendingSet) Len() int {
	return len(p.items)
}

// ReadyLen возвращает число готовых jobs.
func (p *pendingSet) ReadyLen() int {
	return p.ready.Len()
}

// Backoff возвращает число jobs, ожидающих retry.
func (p *pendingSet) Backoff() int {
	n := 0
	for _, item := range p.delayed {
		if item.job.RetryCount > 0 {
			n++
		}
	}
	return n
}
