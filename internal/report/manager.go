package report

import (
	"context"
	"log"
	"slices"
	"strconv"
	"sync"
	"time"

	"parcelwatch/internal/derive"
	"parcelwatch/internal/model"
)

// Source is the scheduler state the manager reads after each poll.
type Source interface {
	Added() []model.DestinationPoint
	Known() []model.DestinationPoint
	Delivered(destinationID string) []model.Parcel
	Status() model.PollStatus
}

// Sink receives sensor lifecycle events. SensorAdded is sent once per
// sensor; SensorUpdated after every poll, with changed set when the count or
// parcel list differs from the previous poll.
type Sink interface {
	SensorAdded(ctx context.Context, v model.SensorView)
	SensorUpdated(ctx context.Context, v model.SensorView, changed bool)
}

type sensor struct {
	point model.DestinationPoint
	view  model.SensorView
}

// Manager is a poll observer that creates sensors lazily, only for
// destination points the scheduler reports as new.
type Manager struct {
	accountID   string
	src         Source
	sinks       []Sink
	sinkTimeout time.Duration

	mu      sync.RWMutex
	sensors map[string]*sensor
	byPoint map[model.DestinationPoint]string
	order   []string
}

func NewManager(accountID string, src Source, sinks ...Sink) *Manager {
	return &Manager{
		accountID:   accountID,
		src:         src,
		sinks:       sinks,
		sinkTimeout: 10 * time.Second,
		sensors:     map[string]*sensor{},
		byPoint:     map[model.DestinationPoint]string{},
	}
}

// Notify implements notify.Observer.
func (m *Manager) Notify() {
	ctx, cancel := context.WithTimeout(context.Background(), m.sinkTimeout)
	defer cancel()
	m.create(ctx, m.src.Added())
	m.refresh(ctx)
}

// Sync creates sensors for every known destination point. Use it when the
// manager starts observing after polls have already happened.
func (m *Manager) Sync(ctx context.Context) {
	m.create(ctx, m.src.Known())
	m.refresh(ctx)
}

func (m *Manager) create(ctx context.Context, points []model.DestinationPoint) {
	var created []model.SensorView
	m.mu.Lock()
	for _, p := range points {
		if _, ok := m.byPoint[p]; ok {
			continue
		}
		key := SensorKey(p)
		// Distinct points can collapse to one key, e.g. names differing
		// only in punctuation.
		for n := 2; m.sensors[key] != nil; n++ {
			key = SensorKey(p) + "_" + strconv.Itoa(n)
		}
		s := &sensor{point: p, view: model.SensorView{
			Key:             key,
			UniqueID:        UniqueID(m.accountID, key),
			Name:            SensorName(p),
			DestinationID:   p.ID,
			DestinationName: p.DisplayName,
			Parcels:         []string{},
		}}
		m.sensors[key] = s
		m.byPoint[p] = key
		m.order = append(m.order, key)
		created = append(created, s.view)
	}
	m.mu.Unlock()

	for _, v := range created {
		log.Printf("report: sensor added key=%s name=%q", v.Key, v.Name)
		for _, sink := range m.sinks {
			sink.SensorAdded(ctx, v)
		}
	}
}

func (m *Manager) refresh(ctx context.Context) {
	st := m.src.Status()
	var updatedAt time.Time
	if st.FetchedAt != nil {
		updatedAt = *st.FetchedAt
	}

	type update struct {
		view    model.SensorView
		changed bool
	}
	var updates []update
	m.mu.Lock()
	for _, key := range m.order {
		s := m.sensors[key]
		delivered := m.src.Delivered(s.point.ID)
		lines := derive.ParcelLines(delivered)
		changed := s.view.DeliveredCount != len(delivered) || !slices.Equal(s.view.Parcels, lines)
		s.view.DeliveredCount = len(delivered)
		s.view.Parcels = lines
		s.view.Details = delivered
		s.view.UpdatedAt = updatedAt
		s.view.Stale = st.Stale()
		updates = append(updates, update{view: s.view, changed: changed})
	}
	m.mu.Unlock()

	for _, u := range updates {
		for _, sink := range m.sinks {
			sink.SensorUpdated(ctx, u.view, u.changed)
		}
	}
}

// List returns every sensor in creation order, without parcel details.
func (m *Manager) List() []model.SensorView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SensorView, 0, len(m.order))
	for _, key := range m.order {
		v := m.sensors[key].view
		v.Details = nil
		out = append(out, v)
	}
	return out
}

// Get returns one sensor by key, including parcel details.
func (m *Manager) Get(key string) (model.SensorView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[key]
	if !ok {
		return model.SensorView{}, false
	}
	return s.view, true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sensors)
}
