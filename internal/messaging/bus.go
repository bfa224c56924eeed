package messaging

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHistorySize bounds the bus history ring.
	DefaultHistorySize = 1000

	// subscriberBuffer is the per-queue channel capacity. Publish
	// never blocks: a full queue drops the message for that
	// subscriber only.
	subscriberBuffer = 64
)

// Subscription selects which envelopes a subscriber receives. Every
// set dimension registers the queue independently; an envelope
// matching any of them is delivered once. Broadcast subsumes the
// other dimensions and is registered alone.
type Subscription struct {
	AgentID   string
	Role      Role
	Type      Type
	TaskID    string
	Broadcast bool
}

// Subscriber owns one delivery queue. Receive from C until it is
// closed by Unsubscribe.
type Subscriber struct {
	ch     chan Envelope
	sub    Subscription
	closed bool
}

// C returns the delivery channel.
func (s *Subscriber) C() <-chan Envelope { return s.ch }

// Handler is invoked synchronously for every published envelope.
// Handlers run under the bus lock: keep them fast and never call
// back into the bus.
type Handler func(Envelope)

// Statistics is a point-in-time snapshot of bus counters.
// SubscriberCount tallies registrations across all index tables, so
// a queue registered under several dimensions counts once per
// dimension.
type Statistics struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	MessagesDropped  int64 `json:"messages_dropped"`
	SubscriberCount  int   `json:"subscribers_count"`
	HistorySize      int   `json:"history_size"`
	MaxHistorySize   int   `json:"max_history_size"`
}

// Filter narrows History results. Zero-valued fields are wildcards;
// MinPriority and the time bounds are pointers so that zero values
// remain expressible.
type Filter struct {
	SenderRole    Role       `json:"sender_role,omitempty"`
	RecipientRole Role       `json:"recipient_role,omitempty"`
	Type          Type       `json:"message_type,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	StepID        string     `json:"step_id,omitempty"`
	From          *time.Time `json:"from_timestamp,omitempty"`
	To            *time.Time `json:"to_timestamp,omitempty"`
	MinPriority   *int       `json:"min_priority,omitempty"`
}

func (f *Filter) matches(e *Envelope) bool {
	if f.SenderRole != "" && e.SenderRole != f.SenderRole {
		return false
	}
	if f.RecipientRole != "" && e.RecipientRole != f.RecipientRole {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.StepID != "" && e.StepID != f.StepID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.MinPriority != nil && e.Priority < *f.MinPriority {
		return false
	}
	return true
}

// Bus routes envelopes between agents in one process. All state is
// guarded by a single mutex; publish performs only non-blocking
// channel sends, so a slow subscriber can never stall a publisher.
type Bus struct {
	mu sync.Mutex

	history  []Envelope
	start    int
	count    int
	capacity int

	byAgent   map[string]map[*Subscriber]struct{}
	byRole    map[Role]map[*Subscriber]struct{}
	byType    map[Type]map[*Subscriber]struct{}
	byTask    map[string]map[*Subscriber]struct{}
	broadcast map[*Subscriber]struct{}

	handlerOrder []string
	handlers     map[string]Handler

	sent      int64
	delivered int64
	dropped   int64
}

// New creates a bus whose history retains up to capacity envelopes.
// A non-positive capacity selects DefaultHistorySize.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &Bus{
		history:   make([]Envelope, capacity),
		capacity:  capacity,
		byAgent:   make(map[string]map[*Subscriber]struct{}),
		byRole:    make(map[Role]map[*Subscriber]struct{}),
		byType:    make(map[Type]map[*Subscriber]struct{}),
		byTask:    make(map[string]map[*Subscriber]struct{}),
		broadcast: make(map[*Subscriber]struct{}),
		handlers:  make(map[string]Handler),
	}
}

// Publish appends env to history, runs the registered handlers, and
// delivers env at most once to every matching subscriber queue. A
// missing id or timestamp is filled in.
func (b *Bus) Publish(env Envelope) {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.appendHistory(env)
	b.sent++

	for _, id := range b.handlerOrder {
		b.invokeHandler(id, env)
	}

	targets := make(map[*Subscriber]struct{})
	for s := range b.broadcast {
		targets[s] = struct{}{}
	}
	if env.RecipientID != "" {
		for s := range b.byAgent[env.RecipientID] {
			targets[s] = struct{}{}
		}
	}
	if env.RecipientRole != "" {
		for s := range b.byRole[env.RecipientRole] {
			targets[s] = struct{}{}
		}
	}
	for s := range b.byType[env.Type] {
		targets[s] = struct{}{}
	}
	if env.TaskID != "" {
		for s := range b.byTask[env.TaskID] {
			targets[s] = struct{}{}
		}
	}

	for s := range targets {
		select {
		case s.ch <- env:
			b.delivered++
		default:
			b.dropped++
			slog.Warn("subscriber queue full, dropping message",
				"message_id", env.ID, "type", env.Type, "agent_id", s.sub.AgentID)
		}
	}

	slog.Debug("message published",
		"message_id", env.ID, "type", env.Type,
		"sender", env.SenderID, "delivered", len(targets))
}

func (b *Bus) invokeHandler(id string, env Envelope) {
	fn, ok := b.handlers[id]
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("message handler panicked", "handler", id, "panic", r)
		}
	}()
	fn(env)
}

// Subscribe allocates a queue and registers it under every set
// dimension of sub. A zero Subscription yields a queue that receives
// nothing.
func (b *Bus) Subscribe(sub Subscription) *Subscriber {
	s := &Subscriber{
		ch:  make(chan Envelope, subscriberBuffer),
		sub: sub,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.Broadcast {
		b.broadcast[s] = struct{}{}
	} else {
		if sub.AgentID != "" {
			addIndex(b.byAgent, sub.AgentID, s)
		}
		if sub.Role != "" {
			addIndex(b.byRole, sub.Role, s)
		}
		if sub.Type != "" {
			addIndex(b.byType, sub.Type, s)
		}
		if sub.TaskID != "" {
			addIndex(b.byTask, sub.TaskID, s)
		}
	}

	slog.Debug("subscriber registered",
		"agent_id", sub.AgentID, "role", sub.Role,
		"type", sub.Type, "task_id", sub.TaskID, "broadcast", sub.Broadcast)
	return s
}

// Unsubscribe removes s from every index table and closes its
// channel. Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	delete(b.broadcast, s)
	for key, set := range b.byAgent {
		delete(set, s)
		if len(set) == 0 {
			delete(b.byAgent, key)
		}
	}
	for key, set := range b.byRole {
		delete(set, s)
		if len(set) == 0 {
			delete(b.byRole, key)
		}
	}
	for key, set := range b.byType {
		delete(set, s)
		if len(set) == 0 {
			delete(b.byType, key)
		}
	}
	for key, set := range b.byTask {
		delete(set, s)
		if len(set) == 0 {
			delete(b.byTask, key)
		}
	}

	close(s.ch)
	slog.Debug("subscriber removed", "agent_id", s.sub.AgentID)
}

// History returns a copy of retained envelopes in publish order,
// optionally narrowed by f.
func (b *Bus) History(f *Filter) []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Envelope, 0, b.count)
	for i := 0; i < b.count; i++ {
		env := b.history[(b.start+i)%b.capacity]
		if f == nil || f.matches(&env) {
			out = append(out, env)
		}
	}
	return out
}

// ClearHistory empties the history ring. Subscriptions are not
// affected.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.count = 0
	slog.Info("message history cleared")
}

// AddHandler registers fn to run synchronously on every publish, in
// registration order. The returned id is used to remove it.
func (b *Bus) AddHandler(fn Handler) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = fn
	b.handlerOrder = append(b.handlerOrder, id)
	return id
}

// RemoveHandler unregisters the handler with the given id.
func (b *Bus) RemoveHandler(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return
	}
	delete(b.handlers, id)
	for i, hid := range b.handlerOrder {
		if hid == id {
			b.handlerOrder = append(b.handlerOrder[:i], b.handlerOrder[i+1:]...)
			break
		}
	}
}

// Statistics reports current counters.
func (b *Bus) Statistics() Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := len(b.broadcast)
	for _, set := range b.byAgent {
		subs += len(set)
	}
	for _, set := range b.byRole {
		subs += len(set)
	}
	for _, set := range b.byType {
		subs += len(set)
	}
	for _, set := range b.byTask {
		subs += len(set)
	}

	return Statistics{
		MessagesSent:     b.sent,
		MessagesReceived: b.delivered,
		MessagesDropped:  b.dropped,
		SubscriberCount:  subs,
		HistorySize:      b.count,
		MaxHistorySize:   b.capacity,
	}
}

func (b *Bus) appendHistory(env Envelope) {
	if b.count < b.capacity {
		b.history[(b.start+b.count)%b.capacity] = env
		b.count++
		return
	}
	b.history[b.start] = env
	b.start = (b.start + 1) % b.capacity
}

func addIndex[K comparable](table map[K]map[*Subscriber]struct{}, key K, s *Subscriber) {
	set, ok := table[key]
	if !ok {
		set = make(map[*Subscriber]struct{})
		table[key] = set
	}
	set[s] = struct{}{}
}
