package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

func testEvent(t domain.EventType, queueID uuid.UUID) domain.JobEvent {
	return domain.JobEvent{Type: t, JobID: uuid.New(), QueueID: queueID, Timestamp: time.Now()}
}

func receive(t *testing.T, sub *Subscription) domain.JobEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.JobEvent{}
}

// --- Bus Tests ---

func TestBus_FanOut(t *testing.T) {
	bus := NewBus(Config{})
	a := bus.Subscribe()
	b := bus.Subscribe()
	queueID := uuid.New()

	bus.Publish(testEvent(domain.EventJobCreated, queueID))

	if ev := receive(t, a); ev.Type != domain.EventJobCreated {
		t.Errorf("a got %s", ev.Type)
	}
	if ev := receive(t, b); ev.Type != domain.EventJobCreated {
		t.Errorf("b got %s", ev.Type)
	}
}

func TestBus_QueueFilter(t *testing.T) {
	bus := NewBus(Config{})
	q1, q2 := uuid.New(), uuid.New()
	sub := bus.Subscribe(WithQueue(q1))

	bus.Publish(testEvent(domain.EventJobCreated, q2))
	bus.Publish(testEvent(domain.EventJobStarted, q1))

	ev := receive(t, sub)
	if ev.QueueID != q1 || ev.Type != domain.EventJobStarted {
		t.Errorf("got %s for queue %s", ev.Type, ev.QueueID)
	}
	select {
	case ev := <-sub.C():
		t.Errorf("unexpected event %s", ev.Type)
	default:
	}
}

func TestBus_PreservesOrder(t *testing.T) {
	bus := NewBus(Config{})
	sub := bus.Subscribe()
	queueID := uuid.New()

	types := []domain.EventType{
		domain.EventJobCreated, domain.EventJobStarted, domain.EventJobFailed,
		domain.EventJobRetried, domain.EventJobStarted, domain.EventJobCompleted,
	}
	for _, typ := range types {
		bus.Publish(testEvent(typ, queueID))
	}
	for i, want := range types {
		if got := receive(t, sub).Type; got != want {
			t.Errorf("event %d = %s, want %s", i, got, want)
		}
	}
}

func TestBus_SlowSubscriberGetsGap(t *testing.T) {
	var drops int
	bus := NewBus(Config{OnDrop: func(uuid.UUID) { drops++ }})
	sub := bus.Subscribe(WithBuffer(2))
	queueID := uuid.New()

	for range 5 {
		bus.Publish(testEvent(domain.EventJobCreated, queueID))
	}
	if drops != 3 {
		t.Errorf("drops = %d, want 3", drops)
	}
	if sub.Missed() != 3 {
		t.Errorf("Missed = %d, want 3", sub.Missed())
	}

	receive(t, sub)
	receive(t, sub)

	bus.Publish(testEvent(domain.EventJobCompleted, queueID))

	gap := receive(t, sub)
	if gap.Type != domain.EventStreamGap {
		t.Fatalf("expected stream.gap, got %s", gap.Type)
	}
	if gap.Missed != 3 {
		t.Errorf("gap.Missed = %d, want 3", gap.Missed)
	}
	if ev := receive(t, sub); ev.Type != domain.EventJobCompleted {
		t.Errorf("expected job.completed after gap, got %s", ev.Type)
	}
	if sub.Missed() != 0 {
		t.Errorf("Missed = %d after gap, want 0", sub.Missed())
	}
	if sub.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", sub.Dropped())
	}
}

func TestBus_GapCarriesSubscriptionQueue(t *testing.T) {
	bus := NewBus(Config{})
	q1, q2 := uuid.New(), uuid.New()
	all := bus.Subscribe(WithBuffer(1))
	filtered := bus.Subscribe(WithQueue(q1), WithBuffer(1))

	bus.Publish(testEvent(domain.EventJobCreated, q1))
	bus.Publish(testEvent(domain.EventJobCreated, q1))
	receive(t, all)
	receive(t, filtered)

	// Разрыв у общего подписчика вызван событием другой очереди
	bus.Publish(testEvent(domain.EventJobStarted, q2))
	gap := receive(t, all)
	if gap.Type != domain.EventStreamGap {
		t.Fatalf("expected stream.gap, got %s", gap.Type)
	}
	if gap.QueueID != uuid.Nil {
		t.Errorf("unfiltered gap.QueueID = %s, want nil", gap.QueueID)
	}

	bus.Publish(testEvent(domain.EventJobStarted, q1))
	gap = receive(t, filtered)
	if gap.Type != domain.EventStreamGap {
		t.Fatalf("expected stream.gap, got %s", gap.Type)
	}
	if gap.QueueID != q1 {
		t.Errorf("filtered gap.QueueID = %s, want %s", gap.QueueID, q1)
	}
}

func TestBus_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(Config{})
	slow := bus.Subscribe(WithBuffer(1))
	fast := bus.Subscribe()
	queueID := uuid.New()

	for range 10 {
		bus.Publish(testEvent(domain.EventJobCreated, queueID))
	}

	for range 10 {
		receive(t, fast)
	}
	if slow.Missed() != 9 {
		t.Errorf("slow.Missed = %d, want 9", slow.Missed())
	}
	if bus.Dropped() != 9 {
		t.Errorf("Dropped = %d, want 9", bus.Dropped())
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus(Config{})
	sub := bus.Subscribe()

	sub.Close()
	sub.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", bus.SubscriberCount())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel")
	}

	// Публикация после отписки не паникует
	bus.Publish(testEvent(domain.EventJobCreated, uuid.New()))
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(Config{})
	sub := bus.Subscribe()

	bus.Close()

	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel")
	}
	late := bus.Subscribe()
	if _, ok := <-late.C(); ok {
		t.Error("expected subscription after Close to be closed")
	}
	sub.Close()
}
