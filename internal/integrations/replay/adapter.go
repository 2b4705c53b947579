// Package replay serves a recorded getIncomingDocumentsByPhone response from
// disk, for running the service without live credentials.
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"

	"parcelwatch/internal/integrations"
	"parcelwatch/internal/integrations/novaposhta"
)

type Adapter struct {
	APIKey string
	Path   string
}

func (a Adapter) Name() string { return "replay" }

func (a Adapter) ValidateCredentials(ctx context.Context) error {
	if a.APIKey == "" {
		return integrations.Auth("replay.validate", errors.New("empty api key"))
	}
	return ctx.Err()
}

// IncomingByPhone re-reads the file on every call so edits show up on the
// next poll. Limit and Page slice the recorded result.
func (a Adapter) IncomingByPhone(ctx context.Context, q integrations.Query) (integrations.Page, error) {
	const op = "replay.incoming"
	if err := ctx.Err(); err != nil {
		return integrations.Page{}, integrations.Transport(op, err)
	}
	raw, err := os.ReadFile(a.Path)
	if err != nil {
		return integrations.Page{}, integrations.Application(op, fmt.Errorf("read %s: %w", a.Path, err))
	}
	parcels, err := novaposhta.ParseIncomingResponse(raw)
	if err != nil {
		return integrations.Page{}, integrations.Application(op, err)
	}
	if q.Limit > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * q.Limit
		if start > len(parcels) {
			start = len(parcels)
		}
		end := start + q.Limit
		if end > len(parcels) {
			end = len(parcels)
		}
		parcels = parcels[start:end]
	}
	return integrations.Page{Parcels: parcels}, nil
}

func (a Adapter) Close() error { return nil }
