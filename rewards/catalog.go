package rewards

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// OFFER CATALOG - External, read-only source of partner offers
// =============================================================================

// OfferCatalog must reflect the offer as of the call. CurrentRedemptions is
// the count of codes issued outside this service; codes issued here are
// counted from the store.
type OfferCatalog interface {
	GetOffer(ctx context.Context, offerID string) (Offer, error)
	ListOffers(ctx context.Context) ([]Offer, error)
}

// MemoryCatalog serves offers loaded from a catalog file or a scenario.
type MemoryCatalog struct {
	mu     sync.RWMutex
	offers map[string]Offer
}

func NewMemoryCatalog(offers ...Offer) (*MemoryCatalog, error) {
	c := &MemoryCatalog{offers: make(map[string]Offer, len(offers))}
	for _, o := range offers {
		if err := c.Put(o); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Put adds or replaces an offer.
func (c *MemoryCatalog) Put(o Offer) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[o.ID] = o
	return nil
}

func (c *MemoryCatalog) GetOffer(_ context.Context, offerID string) (Offer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.offers[offerID]
	if !ok {
		return Offer{}, fmt.Errorf("%w: %s", ErrOfferNotFound, offerID)
	}
	return o, nil
}

func (c *MemoryCatalog) ListOffers(_ context.Context) ([]Offer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Offer, 0, len(c.offers))
	for _, o := range c.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
