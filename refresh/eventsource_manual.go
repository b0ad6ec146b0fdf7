package refresh

import "sync"

// ManualEventSource is an EventSource driven entirely by test or
// embedding code calling Focus/Online directly — no timers, no DOM, no
// goroutine races, used off-browser and in every unit test that needs
// to exercise the orchestrator's trigger semantics deterministically.
type ManualEventSource struct {
	mu            sync.Mutex
	focusHandlers map[int]func()
	onlineHandlers map[int]func()
	nextID        int
}

var _ EventSource = (*ManualEventSource)(nil)

// NewManualEventSource returns a ready-to-use ManualEventSource with no
// registered handlers.
func NewManualEventSource() *ManualEventSource {
	return &ManualEventSource{
		focusHandlers:  make(map[int]func()),
		onlineHandlers: make(map[int]func()),
	}
}

func (m *ManualEventSource) OnFocus(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.focusHandlers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.focusHandlers, id)
	}
}

func (m *ManualEventSource) OnOnline(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.onlineHandlers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onlineHandlers, id)
	}
}

// Focus fires every registered focus handler, simulating the
// application regaining visibility/focus.
func (m *ManualEventSource) Focus() {
	m.mu.Lock()
	handlers := make([]func(), 0, len(m.focusHandlers))
	for _, fn := range m.focusHandlers {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Online fires every registered online handler, simulating the network
// coming back.
func (m *ManualEventSource) Online() {
	m.mu.Lock()
	handlers := make([]func(), 0, len(m.onlineHandlers))
	for _, fn := range m.onlineHandlers {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}
