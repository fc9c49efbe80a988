package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/antoniostano/samantha/internal/circuitbreaker"
)

// entry pairs one adapter with the circuit guarding it.
type entry[T Adapter] struct {
	adapter T
	circuit *circuitbreaker.Circuit
}

// Manager is a priority-ordered pool of adapters of one capability type,
// sharing a circuit breaker per adapter name. T is the adapter interface
// (STTAdapter, LLMAdapter, TTSAdapter, or SearchAdapter).
type Manager[T Adapter] struct {
	providerType Type

	mu            sync.Mutex
	entries       []entry[T]
	current       string
	fallbackCount int
}

func NewManager[T Adapter](providerType Type, adapters ...T) *Manager[T] {
	entries := make([]entry[T], 0, len(adapters))
	for _, a := range adapters {
		entries = append(entries, entry[T]{adapter: a, circuit: circuitbreaker.GetCircuit(a.Name())})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].adapter.Priority() < entries[j].adapter.Priority()
	})
	m := &Manager[T]{providerType: providerType, entries: entries}
	if len(entries) > 0 {
		m.current = entries[0].adapter.Name()
	}
	return m
}

// Execute runs fn against the current adapter if allowed, else the first
// allowed adapter in priority order, falling over to the next allowed,
// untried adapter on failure until one succeeds or all are exhausted.
func Execute[T Adapter, R any](m *Manager[T], ctx context.Context, fn func(T) (R, error)) (R, error) {
	var zero R

	m.mu.Lock()
	ordered := m.orderedFromCurrentLocked()
	m.mu.Unlock()

	tried := map[string]bool{}
	errs := map[string]error{}

	for _, e := range ordered {
		if tried[e.adapter.Name()] {
			continue
		}
		if !e.circuit.Allow() {
			errs[e.adapter.Name()] = &CircuitOpenError{Name: e.adapter.Name()}
			continue
		}
		tried[e.adapter.Name()] = true

		result, err := fn(e.adapter)
		if err == nil {
			e.circuit.RecordSuccess()
			m.setCurrent(e.adapter.Name())
			return result, nil
		}
		e.circuit.RecordFailure(err)
		errs[e.adapter.Name()] = err
	}

	return zero, &AllProvidersFailedError{Type: m.providerType, Errors: errs}
}

// ExecuteWith runs fn against exactly the named adapter, with no fallback.
func ExecuteWith[T Adapter, R any](m *Manager[T], ctx context.Context, name string, fn func(T) (R, error)) (R, error) {
	var zero R

	m.mu.Lock()
	var target *entry[T]
	for i := range m.entries {
		if m.entries[i].adapter.Name() == name {
			target = &m.entries[i]
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return zero, &ProviderUnavailableError{Type: m.providerType, Name: name}
	}
	if !target.circuit.Allow() {
		return zero, &ProviderUnavailableError{Type: m.providerType, Name: name}
	}

	result, err := fn(target.adapter)
	if err != nil {
		target.circuit.RecordFailure(err)
		return zero, err
	}
	target.circuit.RecordSuccess()
	return result, nil
}

// orderedFromCurrentLocked returns entries starting with the current
// adapter (if still present), followed by the rest in priority order.
// Caller must hold m.mu.
func (m *Manager[T]) orderedFromCurrentLocked() []entry[T] {
	ordered := make([]entry[T], 0, len(m.entries))
	var head *entry[T]
	for i := range m.entries {
		if m.entries[i].adapter.Name() == m.current {
			head = &m.entries[i]
			break
		}
	}
	if head != nil {
		ordered = append(ordered, *head)
	}
	for i := range m.entries {
		if m.entries[i].adapter.Name() != m.current {
			ordered = append(ordered, m.entries[i])
		}
	}
	return ordered
}

func (m *Manager[T]) setCurrent(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != name {
		m.current = name
		m.fallbackCount++
	}
}

func (m *Manager[T]) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager[T]) FallbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallbackCount
}

// HealthCheckAll probes every adapter regardless of circuit state.
func (m *Manager[T]) HealthCheckAll(ctx context.Context) map[string]bool {
	m.mu.Lock()
	entries := append([]entry[T]{}, m.entries...)
	m.mu.Unlock()

	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		ok, err := e.adapter.HealthCheck(ctx)
		out[e.adapter.Name()] = ok && err == nil
	}
	return out
}

// ManagerStatus is a structured snapshot for the admin surface.
type ManagerStatus struct {
	Type          Type
	Current       string
	FallbackCount int
	Circuits      []circuitbreaker.Snapshot
}

func (m *Manager[T]) Status() ManagerStatus {
	m.mu.Lock()
	entries := append([]entry[T]{}, m.entries...)
	current := m.current
	fallback := m.fallbackCount
	m.mu.Unlock()

	snapshots := make([]circuitbreaker.Snapshot, 0, len(entries))
	for _, e := range entries {
		snapshots = append(snapshots, e.circuit.Snapshot())
	}
	return ManagerStatus{Type: m.providerType, Current: current, FallbackCount: fallback, Circuits: snapshots}
}

func (m *Manager[T]) ResetAllCircuits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.circuit.Reset()
	}
}
