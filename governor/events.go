package governor

import (
	"sync"
)

// EventType identifies a governor telemetry event.
type EventType int

const (
	// EventPerformanceWarning fires when a module's thresholds are tightened.
	// Payload: ModuleID, AvgCostMs, BudgetMs
	EventPerformanceWarning EventType = iota

	// EventModuleDisabled fires when sustained budget violation disables a
	// module. Payload: ModuleID, Reason
	EventModuleDisabled

	// EventModuleRecovered fires when a module is re-enabled or relaxed after
	// a sustained good window. Payload: ModuleID
	EventModuleRecovered

	// EventEmergencyTriggered fires once when sustained catastrophic fps
	// force-disables all non-essential modules. Payload: Reason
	EventEmergencyTriggered

	// EventEmergencyReset fires on explicit reset back to clean configuration.
	EventEmergencyReset

	// EventEntitiesDropped reports malformed entities filtered at the
	// snapshot boundary. Payload: Dropped
	EventEntitiesDropped
)

func (t EventType) String() string {
	switch t {
	case EventPerformanceWarning:
		return "module:performance-warning"
	case EventModuleDisabled:
		return "module:disabled"
	case EventModuleRecovered:
		return "module:recovered"
	case EventEmergencyTriggered:
		return "emergency:triggered"
	case EventEmergencyReset:
		return "emergency:reset"
	case EventEntitiesDropped:
		return "entities:dropped"
	default:
		return "unknown"
	}
}

// Event is one telemetry notification. Unused payload fields stay zero.
type Event struct {
	Type      EventType `json:"-"`
	Topic     string    `json:"topic"`
	Frame     uint64    `json:"frame"`
	ModuleID  string    `json:"moduleId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	AvgCostMs float64   `json:"avgCostMs,omitempty"`
	BudgetMs  float64   `json:"budgetMs,omitempty"`
	Dropped   int       `json:"dropped,omitempty"`
}

// Handler receives events synchronously during dispatch.
type Handler func(Event)

// Bus is a minimal in-process typed event dispatcher. Publish is synchronous
// and invokes handlers in registration order; there is no queue and no
// goroutine, matching the single-threaded frame model. The lock only guards
// subscription changes from transient consumers (websocket sessions).
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []allSub
	nextID   int
}

type allSub struct {
	id int
	h  Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type and returns an
// unsubscribe func, used by transient consumers like websocket sessions.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, allSub{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.all {
			if sub.id == id {
				b.all = append(b.all[:i], b.all[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the event to type handlers first, then catch-all handlers,
// each in registration order.
func (b *Bus) Publish(ev Event) {
	ev.Topic = ev.Type.String()
	b.mu.RLock()
	typed := b.handlers[ev.Type]
	all := make([]allSub, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()
	for _, h := range typed {
		h(ev)
	}
	for _, sub := range all {
		sub.h(ev)
	}
}
