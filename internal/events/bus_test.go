package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/model"
)

func waitEvent(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return model.Event{}
	}
}

func TestBus_PublishToTypeSubscriber(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()
	got := make(chan model.Event, 1)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	}, model.EventSaveToken)

	ev := NewEvent(model.EventSaveToken, model.Twitch)
	ev.Token = "tok"
	b.Publish(context.Background(), ev)

	out := waitEvent(t, got)
	if out.ID == "" || out.Type != model.EventSaveToken || out.Token != "tok" {
		t.Fatalf("got %+v", out)
	}
	if out.At.IsZero() {
		t.Fatalf("event timestamp not stamped")
	}
}

func TestBus_TypeIsolation(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()
	got := make(chan model.Event, 1)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	}, model.EventDeleteToken)

	b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))

	select {
	case ev := <-got:
		t.Fatalf("unexpected delivery: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_SubscriberSeesPublishOrder(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()
	got := make(chan model.Event, 8)
	b.SubscribeAll(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	})

	save := NewEvent(model.EventSaveToken, model.Twitch)
	success := NewEvent(model.EventAuthSuccess, model.Twitch)
	b.Publish(context.Background(), save)
	b.Publish(context.Background(), success)

	if first := waitEvent(t, got); first.ID != save.ID {
		t.Fatalf("first delivered %s, want the save event", first.Type)
	}
	if second := waitEvent(t, got); second.ID != success.ID {
		t.Fatalf("second delivered %s, want the auth success", second.Type)
	}
}

func TestBus_PanicContained(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()
	got := make(chan model.Event, 1)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		panic("boom")
	}, model.EventSaveToken)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	}, model.EventSaveToken)

	b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))
	waitEvent(t, got) // the healthy subscriber still runs

	// The panicking subscriber keeps consuming afterwards.
	b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))
	waitEvent(t, got)
}

func TestBus_HandlerErrorLoggedNotFatal(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()
	got := make(chan model.Event, 1)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		return errors.New("fanout write failed")
	}, model.EventSaveSecret)
	b.Subscribe(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	}, model.EventSaveSecret)

	b.Publish(context.Background(), NewEvent(model.EventSaveSecret, model.YouTube))
	waitEvent(t, got)
}

func TestBus_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus(zap.NewNop())
	defer b.Close()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var delivered int
	done := make(chan struct{})
	b.SubscribeAll(func(ctx context.Context, ev model.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		delivered++
		if delivered == queueSize+1 {
			close(done)
		}
		return nil
	})

	// First event parks the consumer inside the handler.
	b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))
	<-entered

	// Queue now absorbs exactly queueSize more; the rest are dropped.
	for i := 0; i < queueSize+10; i++ {
		b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))
	}
	close(release)

	// Exactly 1 in-flight + queueSize queued events arrive; the 10 extra
	// were dropped, so the counter can reach queueSize+1 and no further.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queued deliveries never drained")
	}
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := NewBus(zap.NewNop())
	got := make(chan model.Event, 1)
	b.SubscribeAll(func(ctx context.Context, ev model.Event) error {
		got <- ev
		return nil
	})
	b.Close()

	b.Publish(context.Background(), NewEvent(model.EventSaveToken, model.Twitch))
	select {
	case ev := <-got:
		t.Fatalf("delivery after close: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	a := NewEvent(model.EventSaveToken, model.Twitch)
	b := NewEvent(model.EventSaveToken, model.Twitch)
	if a.ID == b.ID {
		t.Fatalf("event ids must be unique")
	}
}
