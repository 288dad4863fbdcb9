package poll

import (
	"context"
	"encoding/json"

	"github.com/trackside/signalbox/internal/catalog"
)

// CatalogFetcher is the part of *catalog.Client used for polling.
type CatalogFetcher interface {
	Fetch(ctx context.Context, resource catalog.Resource) (json.RawMessage, error)
}

// CatalogStore is the part of *catalog.Registry used for polling.
type CatalogStore interface {
	Replace(ctx context.Context, resource catalog.Resource, raw json.RawMessage) ([]int, error)
}

// RemovalSink receives ids of specialized records that left the catalog.
type RemovalSink interface {
	CatalogRemoved(ctx context.Context, kind catalog.Kind, ids []int) error
}

// Observer receives one call per catalog fetch.
type Observer interface {
	ObserveFetch(resource, outcome string)
}

// Fetch outcomes reported to the Observer.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// CatalogFetch returns a FetchFunc that fetches resource, stores it in the
// registry and forwards disappeared ids to sink. sink and observer may be nil.
func CatalogFetch(resource catalog.Resource, client CatalogFetcher, registry CatalogStore, sink RemovalSink, observer Observer) FetchFunc {
	return func(ctx context.Context) error {
		err := fetchOnce(ctx, resource, client, registry, sink)
		if observer != nil {
			outcome := OutcomeOK
			if err != nil {
				outcome = OutcomeError
			}
			observer.ObserveFetch(string(resource), outcome)
		}
		return err
	}
}

func fetchOnce(ctx context.Context, resource catalog.Resource, client CatalogFetcher, registry CatalogStore, sink RemovalSink) error {
	raw, err := client.Fetch(ctx, resource)
	if err != nil {
		return err
	}
	removed, err := registry.Replace(ctx, resource, raw)
	if err != nil {
		return err
	}
	if kind, ok := resource.Kind(); ok && sink != nil && len(removed) > 0 {
		return sink.CatalogRemoved(ctx, kind, removed)
	}
	return nil
}
