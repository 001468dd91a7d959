package sse

import (
	"testing"

	"go.uber.org/zap"
)

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(zap.NewNop())

	a := &Client{ID: "a", UserID: "u1", Events: make(chan Event, 4)}
	b := &Client{ID: "b", UserID: "u2", Events: make(chan Event, 4)}
	hub.Register(a)
	hub.Register(b)

	hub.PublishWorkOrderEvent(EventWorkOrderCreated, "wo-1", "WO-202501010001", "asset-1")

	for _, c := range []*Client{a, b} {
		select {
		case ev := <-c.Events:
			if ev.EventType != EventWorkOrderCreated {
				t.Fatalf("client %s: event = %s, want %s", c.ID, ev.EventType, EventWorkOrderCreated)
			}
			if ev.Payload == "" {
				t.Fatalf("client %s: empty payload", c.ID)
			}
		default:
			t.Fatalf("client %s received no event", c.ID)
		}
	}
}

func TestHubSlowClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())

	slow := &Client{ID: "slow", UserID: "u1", Events: make(chan Event, 1)}
	fast := &Client{ID: "fast", UserID: "u2", Events: make(chan Event, 8)}
	hub.Register(slow)
	hub.Register(fast)

	// slow 的缓冲只装得下一条，后续广播必须直接丢弃而不是阻塞
	for i := 0; i < 5; i++ {
		hub.Broadcast(Event{EventType: EventWorkOrderCompleted, Payload: "{}"})
	}

	if got := len(slow.Events); got != 1 {
		t.Fatalf("slow client buffered %d events, want 1", got)
	}
	if got := len(fast.Events); got != 5 {
		t.Fatalf("fast client buffered %d events, want 5", got)
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())

	c := &Client{ID: "c", UserID: "u1", Events: make(chan Event, 1)}
	hub.Register(c)
	hub.Unregister("c")

	if _, open := <-c.Events; open {
		t.Fatal("channel should be closed after unregister")
	}

	// 注销后广播不应影响已关闭的通道
	hub.Broadcast(Event{EventType: EventWorkOrderCreated, Payload: "{}"})

	// 重复注销幂等
	hub.Unregister("c")
}
