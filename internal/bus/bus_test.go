package bus

import (
	"context"
	"testing"
	"time"
)

func TestBus_SendToAgent_FIFO(t *testing.T) {
	b := New(Config{})
	b.RegisterAgent("a")
	b.RegisterAgent("b")

	for i := 0; i < 5; i++ {
		if err := b.Send(Message{SenderAgentID: "a", Recipient: "b", Kind: KindEvent, Payload: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		msg, err := b.Receive(ctx, "b")
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		if msg.Payload != i {
			t.Fatalf("message %d out of order: got payload %v", i, msg.Payload)
		}
	}
}

func TestBus_UnknownRecipient(t *testing.T) {
	b := New(Config{})
	b.RegisterAgent("a")
	err := b.Send(Message{SenderAgentID: "a", Recipient: "ghost", Kind: KindEvent})
	if err == nil {
		t.Fatal("expected error for unknown recipient")
	}
}

func TestBus_BroadcastChannel_BestEffort(t *testing.T) {
	b := New(Config{InboxCapacity: 1})
	b.RegisterAgent("slow")
	b.RegisterAgent("fast")
	if err := b.Subscribe("team", "slow"); err != nil {
		t.Fatal(err)
	}
	if err := b.Subscribe("team", "fast"); err != nil {
		t.Fatal(err)
	}

	// Overflow "slow"'s single-slot inbox; "fast" must still get every message.
	for i := 0; i < 3; i++ {
		if err := b.Send(Message{Recipient: "team", Kind: KindEvent, Payload: i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := b.Receive(ctx, "fast")
	if err != nil {
		t.Fatalf("fast receive: %v", err)
	}
	if msg.Payload != 2 {
		t.Fatalf("expected fast to have latest message (2), got %v", msg.Payload)
	}
}

func TestBus_BroadcastToEmptyChannel_IsNoop(t *testing.T) {
	b := New(Config{})
	if err := b.Send(Message{Recipient: "nobody-subscribed", Kind: KindEvent}); err != nil {
		t.Fatalf("broadcast to empty channel must be a no-op, got error: %v", err)
	}
}

func TestBus_CommandsNeverDropped(t *testing.T) {
	b := New(Config{InboxCapacity: 2})
	b.RegisterAgent("a")

	if err := b.Send(Message{Recipient: "a", Kind: KindCommand, Payload: "c1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(Message{Recipient: "a", Kind: KindCommand, Payload: "c2"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(Message{Recipient: "a", Kind: KindCommand, Payload: "c3"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		msg, err := b.Receive(ctx, "a")
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		seen[msg.Payload.(string)] = true
	}
	for _, want := range []string{"c1", "c2", "c3"} {
		if !seen[want] {
			t.Fatalf("expected all commands to be delivered, missing %s", want)
		}
	}
}

func TestBus_RequestResponse(t *testing.T) {
	b := New(Config{})
	b.RegisterAgent("requester")
	b.RegisterAgent("responder")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		req, err := b.Receive(ctx, "responder")
		if err != nil {
			return
		}
		_ = b.Send(Message{
			SenderAgentID: "responder",
			Recipient:     req.SenderAgentID,
			Kind:          KindResponse,
			CorrelationID: req.ID,
			Payload:       "pong",
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := b.Request(ctx, "requester", "responder", "ping", time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Payload != "pong" {
		t.Fatalf("expected pong, got %v", resp.Payload)
	}
}

func TestBus_RequestTimeout(t *testing.T) {
	b := New(Config{})
	b.RegisterAgent("requester")
	b.RegisterAgent("responder") // never replies

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := b.Request(ctx, "requester", "responder", "ping", 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestBus_DeregisterRemovesSubscriptions(t *testing.T) {
	b := New(Config{})
	b.RegisterAgent("a")
	if err := b.Subscribe("team", "a"); err != nil {
		t.Fatal(err)
	}
	b.DeregisterAgent("a")

	// Broadcasting to "team" now has zero live subscribers: a no-op, not an error.
	if err := b.Send(Message{Recipient: "team", Kind: KindEvent}); err != nil {
		t.Fatalf("expected no-op broadcast, got %v", err)
	}
}

func TestBus_OnDropCallback(t *testing.T) {
	var drops int
	b := New(Config{InboxCapacity: 1})
	b.OnDrop = func(DropWarning) { drops++ }
	b.RegisterAgent("a")

	_ = b.Send(Message{Recipient: "a", Kind: KindEvent, Payload: 1})
	_ = b.Send(Message{Recipient: "a", Kind: KindEvent, Payload: 2})

	if drops != 1 {
		t.Fatalf("expected 1 drop callback, got %d", drops)
	}
}
