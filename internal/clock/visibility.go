package clock

import "sync"

// Visibility reports whether the user can currently see the client and
// announces transitions back into view.
type Visibility interface {
	Visible() bool
	// OnVisible registers fn to run whenever the client moves from hidden
	// to visible. The returned func removes the listener.
	OnVisible(fn func()) (cancel func())
}

// Window is a settable Visibility. It starts visible.
type Window struct {
	mu        sync.Mutex
	visible   bool
	nextID    int
	listeners map[int]func()
}

// NewWindow returns a visible Window.
func NewWindow() *Window {
	return &Window{visible: true, listeners: make(map[int]func())}
}

// Visible reports the current visibility.
func (w *Window) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// SetVisible updates visibility. Listeners run on the caller's goroutine
// after the state change, only for a hidden to visible transition.
func (w *Window) SetVisible(visible bool) {
	w.mu.Lock()
	becameVisible := visible && !w.visible
	w.visible = visible
	var fns []func()
	if becameVisible {
		fns = make([]func(), 0, len(w.listeners))
		for _, fn := range w.listeners {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// OnVisible implements Visibility.
func (w *Window) OnVisible(fn func()) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	w.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.listeners, id)
			w.mu.Unlock()
		})
	}
}

// Listeners returns the number of registered listeners.
func (w *Window) Listeners() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}
