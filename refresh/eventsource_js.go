//go:build js && wasm

package refresh

import (
	"sync"
	"syscall/js"
)

// DOMEventSource wires document.visibilitychange (filtered to
// "visible"), window.focus, and window.online exactly once per process
// via sync.Once; any number of Go-side callbacks fan out from that one
// native listener.
type DOMEventSource struct {
	once sync.Once

	mu             sync.Mutex
	focusHandlers  map[int]func()
	onlineHandlers map[int]func()
	nextID         int
}

var _ EventSource = (*DOMEventSource)(nil)

var processDOMEventSource = &DOMEventSource{
	focusHandlers:  make(map[int]func()),
	onlineHandlers: make(map[int]func()),
}

// NewDOMEventSource returns the process-wide DOMEventSource; every call
// returns the same value. Native listeners are installed lazily, on
// first registration.
func NewDOMEventSource() *DOMEventSource {
	return processDOMEventSource
}

func (d *DOMEventSource) ensureWired() {
	d.once.Do(func() {
		fireFocus := func() { d.fanOutFocus() }

		js.Global().Get("document").Call("addEventListener", "visibilitychange",
			js.FuncOf(func(this js.Value, args []js.Value) any {
				if js.Global().Get("document").Get("visibilityState").String() == "visible" {
					fireFocus()
				}
				return nil
			}))

		js.Global().Call("addEventListener", "focus",
			js.FuncOf(func(this js.Value, args []js.Value) any {
				fireFocus()
				return nil
			}))

		js.Global().Call("addEventListener", "online",
			js.FuncOf(func(this js.Value, args []js.Value) any {
				d.fanOutOnline()
				return nil
			}))
	})
}

func (d *DOMEventSource) fanOutFocus() {
	d.mu.Lock()
	handlers := make([]func(), 0, len(d.focusHandlers))
	for _, fn := range d.focusHandlers {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *DOMEventSource) fanOutOnline() {
	d.mu.Lock()
	handlers := make([]func(), 0, len(d.onlineHandlers))
	for _, fn := range d.onlineHandlers {
		handlers = append(handlers, fn)
	}
	d.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *DOMEventSource) OnFocus(fn func()) func() {
	d.ensureWired()
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.focusHandlers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.focusHandlers, id)
	}
}

func (d *DOMEventSource) OnOnline(fn func()) func() {
	d.ensureWired()
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.onlineHandlers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.onlineHandlers, id)
	}
}
