package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultBufferSize — размер буфера подписки по умолчанию.
const DefaultBufferSize = 1024

// DropCounter вызывается при каждом отброшенном событии.
type DropCounter func(queueID uuid.UUID)

// Bus — шина событий движка (fan-out).
//
// Publish никогда не блокирует публикующего: если буфер подписчика полон,
// событие для него отбрасывается и увеличивается счётчик пропусков.
// Перед следующим доставленным событием подписчик получает stream.gap
// с количеством пропущенных.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	bufferSize int
	onDrop     DropCounter
	logger     *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// Config — настройки шины.
type Config struct {
	BufferSize int
	OnDrop     DropCounter
	Logger     *slog.Logger
}

// NewBus создаёт шину.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: cfg.BufferSize,
		onDrop:     cfg.OnDrop,
		logger:     cfg.Logger,
	}
}

// SubscribeOption — параметр подписки.
type SubscribeOption func(*Subscription)

// WithQueue ограничивает подписку событиями одной очереди.
func WithQueue(queueID uuid.UUID) SubscribeOption {
	return func(s *Subscription) {
		s.queueID = queueID
	}
}

// WithBuffer задаёт размер буфера подписки.
func WithBuffer(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Subscribe регистрирует нового подписчика.
// После Close шины возвращает уже закрытую подписку.
func (b *Bus) Subscribe(opts ...SubscribeOption) *Subscription {
	sub := &Subscription{bus: b, buffer: b.bufferSize}
	for _, opt := range opts {
		opt(sub)
	}
	sub.ch = make(chan domain.JobEvent, sub.buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish рассылает событие всем подходящим подписчикам.
func (b *Bus) Publish(event domain.JobEvent) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.matches(event) {
			continue
		}
		if !sub.deliver(event) {
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(event.QueueID)
			}
		}
	}
}

// SubscriberCount возвращает число активных подписчиков.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped возвращает общее число отброшенных доставок.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close закрывает все подписки. Последующие Publish ничего не делают.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
	b.logger.Debug("event bus closed",
		slog.Int64("published", b.published.Load()),
		slog.Int64("dropped", b.dropped.Load()),
	)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription — подписка на события.
type Subscription struct {
	bus     *Bus
	id      uint64
	queueID uuid.UUID
	buffer  int

	mu      sync.Mutex
	ch      chan domain.JobEvent
	missed  int64
	dropped int64
	closed  bool
}

// C возвращает канал событий. Канал закрывается при Close.
func (s *Subscription) C() <-chan domain.JobEvent {
	return s.ch
}

// Missed возвращает число пропущенных событий, ещё не сообщённых через stream.gap.
func (s *Subscription) Missed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missed
}

// Dropped возвращает общее число событий, потерянных этим подписчиком.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close отписывает и закрывает канал. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Subscription) matches(event domain.JobEvent) bool {
	return s.queueID == uuid.Nil || event.QueueID == s.queueID
}

// deliver пытается отправить событие без блокировки.
// Возвращает false, если событие отброшено.
func (s *Subscription) deliver(event domain.JobEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}

	if s.missed > 0 {
		gap := domain.NewQueueEvent(domain.EventStreamGap, s.queueID, event.Timestamp)
		gap.Missed = s.missed
		select {
		case s.ch <- gap:
			s.missed = 0
		default:
			s.missed++
			s.dropped++
			return false
		}
	}

	select {
	case s.ch <- event:
		return true
	default:
		s.missed++
		s.dropped++
		return false
	}
}
