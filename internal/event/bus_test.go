package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBus_PublishDeliversInOrder(t *testing.T) {
	b := NewBus(zap.NewNop())

	var got []string
	b.Subscribe("a", func(_ context.Context, e Event) { got = append(got, "a1:"+e.Topic) })
	b.Subscribe("a", func(_ context.Context, e Event) { got = append(got, "a2:"+e.Topic) })
	b.Subscribe("b", func(_ context.Context, e Event) { got = append(got, "b:"+e.Topic) })
	b.SubscribeAll(func(_ context.Context, e Event) { got = append(got, "all:"+e.Topic) })

	if err := b.Publish(context.Background(), New("a", "test", time.Now(), nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	want := []string{"a1:a", "a2:a", "all:a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(zap.NewNop())

	calls := 0
	unsub := b.Subscribe("a", func(context.Context, Event) { calls++ })
	unsubAll := b.SubscribeAll(func(context.Context, Event) { calls++ })

	_ = b.Publish(context.Background(), Event{Topic: "a"})
	unsub()
	unsubAll()
	_ = b.Publish(context.Background(), Event{Topic: "a"})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBus_PanickingHandlerIsContained(t *testing.T) {
	b := NewBus(zap.NewNop())

	reached := false
	b.Subscribe("a", func(context.Context, Event) { panic("observer bug") })
	b.Subscribe("a", func(context.Context, Event) { reached = true })

	if err := b.Publish(context.Background(), Event{Topic: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !reached {
		t.Error("handler after panicking handler was not called")
	}
}

func TestBus_PublishAsync(t *testing.T) {
	b := NewBus(nil)

	var wg sync.WaitGroup
	wg.Add(2)
	b.Subscribe("a", func(context.Context, Event) { wg.Done() })
	b.SubscribeAll(func(context.Context, Event) { wg.Done() })

	b.PublishAsync(context.Background(), Event{Topic: "a"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers were not called")
	}
}

func TestNew_AssignsUniqueIDs(t *testing.T) {
	a := New("t", "s", time.Now(), 1)
	b := New("t", "s", time.Now(), 2)
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected non-empty IDs")
	}
	if a.ID == b.ID {
		t.Errorf("IDs not unique: %q", a.ID)
	}
}
