// Package reconcile tracks every destination point seen since start and
// reports only the ones that are new.
package reconcile

import (
	"sync"

	"parcelwatch/internal/model"
)

// Reconciler holds the known set. The set only grows: points that disappear
// from later polls stay known.
type Reconciler struct {
	mu    sync.Mutex
	known model.DestinationPointSet
}

func New() *Reconciler {
	return &Reconciler{known: model.DestinationPointSet{}}
}

// Reconcile returns the points of observed not seen before and adds them to
// the known set. The result is sorted by id, then name.
func (r *Reconciler) Reconcile(observed model.DestinationPointSet) []model.DestinationPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := observed.Minus(r.known)
	for p := range added {
		r.known.Add(p)
	}
	return added.Sorted()
}

// Known returns a sorted copy of the known set.
func (r *Reconciler) Known() []model.DestinationPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known.Sorted()
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known.Len()
}
