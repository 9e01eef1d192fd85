package fetch

import (
	"context"
	"fmt"

	"github.com/abelbrown/chatfeed/internal/model"
	"github.com/abelbrown/chatfeed/internal/store"
)

// Gateway is the page fetch contract, repeated here so the router can hold
// any implementation without importing the coordinator.
type Gateway interface {
	Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error)
}

// StoreGateway serves pages of ingested chats from the local message store.
type StoreGateway struct {
	store *store.Store
}

// NewStoreGateway creates a gateway reading from st.
func NewStoreGateway(st *store.Store) *StoreGateway {
	return &StoreGateway{store: st}
}

// Fetch returns a page of src from the store.
func (g *StoreGateway) Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	items, err := g.store.Page(src.ID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("store page %s: %w", src.ID, err)
	}
	return items, nil
}

// Router sends sources with a feed URL to the RSS gateway and everything
// else to the store gateway.
type Router struct {
	RSS   Gateway
	Local Gateway
}

// Fetch dispatches to the gateway responsible for src.
func (r *Router) Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error) {
	if src.FeedURL != "" {
		if r.RSS == nil {
			return nil, fmt.Errorf("source %s: no RSS gateway configured", src.ID)
		}
		return r.RSS.Fetch(ctx, src, cursor, limit)
	}
	if r.Local == nil {
		return nil, fmt.Errorf("source %s: no local gateway configured", src.ID)
	}
	return r.Local.Fetch(ctx, src, cursor, limit)
}
