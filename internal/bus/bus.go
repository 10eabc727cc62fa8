// Package bus implements the Coordinator's Message Bus (spec.md §4.1): an
// in-process, typed message-passing layer among agents with per-recipient
// FIFO inboxes, named broadcast channels, and correlated request/response
// exchanges. Grounded on the teacher's topic-prefix pub/sub
// (internal/bus/bus.go) generalized from topic broadcast to the spec's
// addressed Message model, and on its non-blocking, drop-oldest overflow
// policy.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joelfuller2016/swarmbot/internal/swarmerr"
)

// Kind is the closed set of message kinds (spec.md §3 Message).
type Kind string

const (
	KindRequest  Kind = "Request"
	KindResponse Kind = "Response"
	KindEvent    Kind = "Event"
	KindCommand  Kind = "Command"
)

// Message is the unit of agent-to-agent communication.
type Message struct {
	ID              string
	SenderAgentID   string
	Recipient       string // a specific agent id, a broadcast channel name, or "all"
	Kind            Kind
	CorrelationID   string // echoes a prior Request.ID on a Response
	Payload         any
	Timestamp       time.Time
	TTL             time.Duration // zero means no expiry
}

func (m Message) expired(now time.Time) bool {
	return m.TTL > 0 && now.Sub(m.Timestamp) > m.TTL
}

// DefaultInboxCapacity is the default bounded size of a per-agent inbox
// (spec.md §4.1: "bounded inbox (default 1,024)").
const DefaultInboxCapacity = 1024

// DropWarning is reported through OnDrop when a non-Command message is
// evicted from a full inbox, so a caller (typically the Coordinator wiring
// the Event Stream) can emit a Warning event per spec.md §4.1.
type DropWarning struct {
	Recipient string
	Dropped   Message
}

// Bus is the in-process Message Bus.
type Bus struct {
	mu       sync.RWMutex
	inboxes  map[string]*inbox
	channels map[string]map[string]struct{} // channel name -> subscribed agent ids

	pendingMu sync.Mutex
	pending   map[string]chan Message // request id -> waiter

	inboxCapacity int
	logger        *slog.Logger

	// OnDrop, if set, is invoked (outside any lock) whenever a message is
	// evicted from a full inbox.
	OnDrop func(DropWarning)
}

// Config controls Bus construction.
type Config struct {
	InboxCapacity int
	Logger        *slog.Logger
}

// New creates a Bus.
func New(cfg Config) *Bus {
	cap := cfg.InboxCapacity
	if cap <= 0 {
		cap = DefaultInboxCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		inboxes:       make(map[string]*inbox),
		channels:      make(map[string]map[string]struct{}),
		pending:       make(map[string]chan Message),
		inboxCapacity: cap,
		logger:        logger,
	}
}

// RegisterAgent creates (or returns the existing) inbox for an agent id.
// The Agent Registry calls this when an Agent Runtime starts.
func (b *Bus) RegisterAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[agentID]; !ok {
		b.inboxes[agentID] = newInbox(b.inboxCapacity)
	}
}

// DeregisterAgent removes an agent's inbox and all of its channel
// subscriptions. Undelivered messages are discarded.
func (b *Bus) DeregisterAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, agentID)
	for _, subs := range b.channels {
		delete(subs, agentID)
	}
}

// Subscribe registers agentID as a recipient of broadcasts sent to channel.
func (b *Bus) Subscribe(channel, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[agentID]; !ok {
		return fmt.Errorf("subscribe: %w: %s", swarmerr.ErrUnknownAgent, agentID)
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]struct{})
		b.channels[channel] = subs
	}
	subs[agentID] = struct{}{}
	return nil
}

// Unsubscribe removes agentID from a broadcast channel.
func (b *Bus) Unsubscribe(channel, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.channels[channel]; ok {
		delete(subs, agentID)
	}
}

// Send delivers a message to its recipient: a specific agent inbox, every
// subscriber of a named broadcast channel, or every registered agent for
// the reserved recipient "all". It fails with UnknownRecipient if the
// recipient names neither an agent nor a channel. Broadcasting to a
// channel with no subscribers is a documented no-op, not an error
// (spec.md §9 Open Questions).
func (b *Bus) Send(msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if msg.Kind == KindResponse && msg.CorrelationID != "" {
		if delivered := b.deliverToWaiter(msg); delivered {
			return nil
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if ib, ok := b.inboxes[msg.Recipient]; ok {
		b.pushOne(msg.Recipient, ib, msg)
		return nil
	}
	if subs, ok := b.channels[msg.Recipient]; ok {
		b.broadcast(subs, msg)
		return nil
	}
	if msg.Recipient == "all" {
		for id, ib := range b.inboxes {
			b.pushOne(id, ib, msg)
		}
		return nil
	}
	return fmt.Errorf("send: %w: %s", swarmerr.ErrUnknownRecipient, msg.Recipient)
}

// broadcast is best-effort: a full inbox on one subscriber never blocks
// delivery to the others (spec.md §4.1).
func (b *Bus) broadcast(subs map[string]struct{}, msg Message) {
	for agentID := range subs {
		if ib, ok := b.inboxes[agentID]; ok {
			b.pushOne(agentID, ib, msg)
		}
	}
}

func (b *Bus) pushOne(recipient string, ib *inbox, msg Message) {
	dropped, ok := ib.push(msg)
	if ok {
		b.logger.Warn("bus inbox overflow, dropped oldest message", "recipient", recipient, "dropped_kind", dropped.Kind)
		if b.OnDrop != nil {
			b.OnDrop(DropWarning{Recipient: recipient, Dropped: dropped})
		}
	}
}

func (b *Bus) deliverToWaiter(msg Message) bool {
	b.pendingMu.Lock()
	waiter, ok := b.pending[msg.CorrelationID]
	if ok {
		delete(b.pending, msg.CorrelationID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return false
	}
	select {
	case waiter <- msg:
	default:
	}
	return true
}

// Receive blocks until a message arrives in agentID's inbox, the context is
// cancelled, or the inbox is unknown.
func (b *Bus) Receive(ctx context.Context, agentID string) (Message, error) {
	b.mu.RLock()
	ib, ok := b.inboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return Message{}, fmt.Errorf("receive: %w: %s", swarmerr.ErrUnknownAgent, agentID)
	}
	return ib.pop(ctx)
}

// Request sends a Request message and blocks for the correlated Response,
// failing with ErrRequestTimeout if none arrives in time. Modeled on the
// teacher's event-driven (non-polling) Waiter.
func (b *Bus) Request(ctx context.Context, sender, recipient string, payload any, timeout time.Duration) (Message, error) {
	id := uuid.NewString()
	waiter := make(chan Message, 1)

	b.pendingMu.Lock()
	b.pending[id] = waiter
	b.pendingMu.Unlock()
	cleanup := func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}

	msg := Message{
		ID:            id,
		SenderAgentID: sender,
		Recipient:     recipient,
		Kind:          KindRequest,
		Timestamp:     time.Now(),
		Payload:       payload,
	}
	if err := b.Send(msg); err != nil {
		cleanup()
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		cleanup()
		return Message{}, fmt.Errorf("request %s->%s: %w", sender, recipient, swarmerr.ErrRequestTimeout)
	case <-ctx.Done():
		cleanup()
		return Message{}, ctx.Err()
	}
}

// InboxDepth returns the current queue length for an agent, or 0 if unknown.
func (b *Bus) InboxDepth(agentID string) int {
	b.mu.RLock()
	ib, ok := b.inboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return ib.len()
}
