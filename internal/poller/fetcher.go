package poller

import (
	"context"
	"time"

	"parcelwatch/internal/integrations"
	"parcelwatch/internal/model"
)

const (
	DefaultHistoryDays = 180
	DefaultPageLimit   = 100
)

// Fetcher turns the incoming-shipments endpoint of a ShipmentSource into
// snapshots. It never retries; errors keep their classification.
type Fetcher struct {
	Source      integrations.ShipmentSource
	HistoryDays int
	PageLimit   int
	// MaxPages bounds how many pages one fetch reads. Reading stops early at
	// the first short page.
	MaxPages int
	Now      func() time.Time
}

func NewFetcher(src integrations.ShipmentSource) *Fetcher {
	return &Fetcher{Source: src, HistoryDays: DefaultHistoryDays, PageLimit: DefaultPageLimit, MaxPages: 1}
}

func (f *Fetcher) Validate(ctx context.Context) error {
	return f.Source.ValidateCredentials(ctx)
}

func (f *Fetcher) Fetch(ctx context.Context) (model.Snapshot, error) {
	now := f.now()
	q := f.Window(now)
	pages := f.MaxPages
	if pages < 1 {
		pages = 1
	}
	var parcels []model.Parcel
	for page := 1; page <= pages; page++ {
		q.Page = page
		p, err := f.Source.IncomingByPhone(ctx, q)
		if err != nil {
			return model.Snapshot{}, err
		}
		parcels = append(parcels, p.Parcels...)
		if q.Limit <= 0 || len(p.Parcels) < q.Limit {
			break
		}
	}
	return model.Snapshot{FetchedAt: now, Parcels: parcels}, nil
}

// Window returns the query for the first page: from HistoryDays before today
// up to the start of tomorrow, both at local midnight.
func (f *Fetcher) Window(now time.Time) integrations.Query {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	days := f.HistoryDays
	if days <= 0 {
		days = DefaultHistoryDays
	}
	return integrations.Query{
		DateFrom: today.AddDate(0, 0, -days),
		DateTo:   today.AddDate(0, 0, 1),
		Limit:    f.PageLimit,
		Page:     1,
	}
}

func (f *Fetcher) Close() error { return f.Source.Close() }

func (f *Fetcher) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
