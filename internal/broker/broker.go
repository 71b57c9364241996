// Package broker implements the core's capability broker (spec §4.7): the
// only global state in the core, scoped hierarchically (one root plus one
// child per arena), publishing interfaces (LIFO override stack + refcount),
// callbacks (multicast, registration order then parent), and advisors
// (single-use token, parent-unioned query). Grounded on the teacher's
// core/events.EventManager (a map[EventType][]EventHandler multicast
// registry), generalized with the override stack, refcounting, and
// hierarchy EventManager does not have.
package broker

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type ifaceKey struct {
	typeKey      string
	discriminant string
}

type ifaceReg struct {
	value    interface{}
	refcount int32
}

// Broker is one scope in the hierarchy: the zone-wide root, or one child per
// arena (spec §4.7, Glossary "Arena").
type Broker struct {
	parent *Broker

	mu         sync.RWMutex
	interfaces map[ifaceKey][]*ifaceReg
	callbacks  map[string][]func(args ...interface{})
	advisors   map[string]map[uuid.UUID]interface{}
}

// New creates the root broker.
func New() *Broker {
	return newScope(nil)
}

// NewChild creates a child scope (one per arena) whose lookups fall back to
// parent on miss.
func (b *Broker) NewChild() *Broker {
	return newScope(b)
}

func newScope(parent *Broker) *Broker {
	return &Broker{
		parent:     parent,
		interfaces: make(map[ifaceKey][]*ifaceReg),
		callbacks:  make(map[string][]func(args ...interface{})),
		advisors:   make(map[string]map[uuid.UUID]interface{}),
	}
}

// RegisterInterface pushes value onto the LIFO stack for (typeKey,
// discriminant). The most recently registered implementation is returned by
// GetInterface until it is unregistered.
func (b *Broker) RegisterInterface(typeKey, discriminant string, value interface{}) {
	k := ifaceKey{typeKey, discriminant}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interfaces[k] = append(b.interfaces[k], &ifaceReg{value: value})
}

// GetInterface returns the top-of-stack implementation for (typeKey,
// discriminant), incrementing its reference count, and a release func the
// caller must invoke when done holding it. Falls back to the parent scope
// on miss.
func (b *Broker) GetInterface(typeKey, discriminant string) (interface{}, func(), bool) {
	k := ifaceKey{typeKey, discriminant}

	b.mu.Lock()
	stack := b.interfaces[k]
	if len(stack) > 0 {
		reg := stack[len(stack)-1]
		reg.refcount++
		b.mu.Unlock()
		release := func() {
			b.mu.Lock()
			reg.refcount--
			b.mu.Unlock()
		}
		return reg.value, release, true
	}
	b.mu.Unlock()

	if b.parent != nil {
		return b.parent.GetInterface(typeKey, discriminant)
	}
	return nil, nil, false
}

// UnregisterInterface removes value from the stack for (typeKey,
// discriminant). It fails (returns the held refcount, ok=false) if any
// caller still holds a reference via GetInterface.
func (b *Broker) UnregisterInterface(typeKey, discriminant string, value interface{}) (ok bool, heldCount int) {
	k := ifaceKey{typeKey, discriminant}
	b.mu.Lock()
	defer b.mu.Unlock()

	stack := b.interfaces[k]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].value == value {
			if stack[i].refcount > 0 {
				return false, int(stack[i].refcount)
			}
			b.interfaces[k] = append(stack[:i], stack[i+1:]...)
			return true, 0
		}
	}
	return false, 0
}

// RegisterCallback adds fn to the multicast set for typeKey.
func (b *Broker) RegisterCallback(typeKey string, fn func(args ...interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[typeKey] = append(b.callbacks[typeKey], fn)
}

// FireCallback invokes every handler registered for typeKey in registration
// order, then recurses into the parent scope (spec §4.7, §5's ordering
// guarantee for broker callback fire order).
func (b *Broker) FireCallback(typeKey string, args ...interface{}) {
	b.mu.RLock()
	handlers := append([]func(args ...interface{}){}, b.callbacks[typeKey]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(args...)
	}
	if b.parent != nil {
		b.parent.FireCallback(typeKey, args...)
	}
}

// RegisterAdvisor adds value to the advisor set for typeKey and returns a
// single-use unregister token.
func (b *Broker) RegisterAdvisor(typeKey string, value interface{}) func() {
	id := uuid.New()
	b.mu.Lock()
	if b.advisors[typeKey] == nil {
		b.advisors[typeKey] = make(map[uuid.UUID]interface{})
	}
	b.advisors[typeKey][id] = value
	b.mu.Unlock()

	used := false
	return func() {
		if used {
			return
		}
		used = true
		b.mu.Lock()
		delete(b.advisors[typeKey], id)
		b.mu.Unlock()
	}
}

// GetAdvisors returns this scope's registered set unioned with the parent
// chain's, satisfying "changes to the parent's set are propagated to
// children" without a separate event channel: because the walk is dynamic,
// any parent registration made after a child's earlier query is still
// visible on the child's next query.
func (b *Broker) GetAdvisors(typeKey string) []interface{} {
	b.mu.RLock()
	out := make([]interface{}, 0, len(b.advisors[typeKey]))
	for _, v := range b.advisors[typeKey] {
		out = append(out, v)
	}
	b.mu.RUnlock()

	if b.parent != nil {
		out = append(out, b.parent.GetAdvisors(typeKey)...)
	}
	return out
}

// String renders a diagnostic summary, mirroring the teacher's preference
// for a one-line human-readable dump over a dashboard (non-goal, spec §1).
func (b *Broker) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("broker{interfaces=%d callbacks=%d advisors=%d child-of-root=%v}",
		len(b.interfaces), len(b.callbacks), len(b.advisors), b.parent != nil)
}
