// Package notify implements the poll observer registry.
package notify

import (
	"log"
	"sync"
)

// Observer is called once per completed poll, successful or not. Observers
// read whatever state they need from the scheduler.
type Observer interface {
	Notify()
}

// Func adapts a function to an Observer. Each call returns a distinct
// observer, so the same function can be registered twice through two Funcs.
func Func(fn func()) Observer { return &funcObserver{fn: fn} }

type funcObserver struct{ fn func() }

func (f *funcObserver) Notify() { f.fn() }

// Registry is an ordered set of observers. Observer identity is interface
// equality, so observers must be comparable (pointers are the usual choice).
type Registry struct {
	mu        sync.Mutex
	observers []Observer
	notifying sync.Mutex
}

func NewRegistry() *Registry { return &Registry{} }

// Add registers o. Adding an observer that is already present is a no-op.
func (r *Registry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(o) >= 0 {
		return
	}
	r.observers = append(r.observers, o)
}

// Remove unregisters o. Removing an absent observer is a no-op.
func (r *Registry) Remove(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(o); i >= 0 {
		r.observers = append(r.observers[:i:i], r.observers[i+1:]...)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// NotifyAll calls every registered observer in registration order. The list
// is copied first; an observer removed before its turn is skipped. No lock is
// held while an observer runs, so observers may Add or Remove. A panicking
// observer is logged and the rest are still notified. Concurrent NotifyAll
// calls are serialised.
func (r *Registry) NotifyAll() {
	r.notifying.Lock()
	defer r.notifying.Unlock()

	r.mu.Lock()
	pending := append([]Observer(nil), r.observers...)
	r.mu.Unlock()

	for _, o := range pending {
		if !r.registered(o) {
			continue
		}
		r.call(o)
	}
}

func (r *Registry) call(o Observer) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("notify: observer %T panicked: %v", o, rec)
		}
	}()
	o.Notify()
}

func (r *Registry) registered(o Observer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(o) >= 0
}

func (r *Registry) indexOf(o Observer) int {
	for i, x := range r.observers {
		if x == o {
			return i
		}
	}
	return -1
}
