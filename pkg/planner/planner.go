package planner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/windrose-sh/windrose/pkg/backend"
	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/metrics"
	"github.com/windrose-sh/windrose/pkg/types"
)

// DefaultCallTimeout bounds each backend GetOffers call unless the
// planner is configured otherwise.
const DefaultCallTimeout = 20 * time.Second

// Planner turns a profile and requirements into the list of offers a run
// could execute on. Backends are queried concurrently; a failing backend
// costs a warning, never the whole query.
type Planner struct {
	registry    *backend.Registry
	logger      zerolog.Logger
	offers      *cache.Cache
	unavailable *UnavailableOfferings

	// CallTimeout bounds each backend GetOffers call.
	CallTimeout time.Duration

	// SortOffers reorders the merged offer list before it is returned.
	// The default keeps the order backends declared, concatenated in
	// registry order. Cross-backend ranking is deliberately left to this
	// hook; price alone is a poor proxy once GPUs differ.
	SortOffers func([]types.Offer)
}

// New creates a planner over the configured backends.
func New(registry *backend.Registry) *Planner {
	return &Planner{
		registry:    registry,
		logger:      log.WithComponent("planner"),
		offers:      cache.New(offersTTL, offersTTL),
		unavailable: NewUnavailableOfferings(),
		CallTimeout: DefaultCallTimeout,
	}
}

// Unavailable exposes the shared unavailable-offerings cache so the
// instance-creation path can mark shortages it encounters.
func (p *Planner) Unavailable() *UnavailableOfferings {
	return p.unavailable
}

// GetOffers queries the profile's backends and returns the offers that
// satisfy the requirements.
//
// The profile's backend filter retains the aggregator meta-backend even
// when it is not listed: the aggregator brokers offers for concrete
// backends, so its results are re-filtered by offer backend and region
// afterwards instead. With excludeNotAvailable set, offers whose
// availability rules out provisioning are dropped.
func (p *Planner) GetOffers(ctx context.Context, profile *types.Profile, req types.Requirements, excludeNotAvailable bool) []types.Offer {
	backends := p.registry.List()
	if len(profile.Backends) > 0 {
		backends = lo.Filter(backends, func(b backend.Backend, _ int) bool {
			return b.Type() == types.BackendTypeAggregator || lo.Contains(profile.Backends, b.Type())
		})
	}

	// Query every backend concurrently, keeping registry order stable.
	results := make([][]types.Offer, len(backends))
	var wg sync.WaitGroup
	for i, b := range backends {
		wg.Add(1)
		go func(i int, b backend.Backend) {
			defer wg.Done()
			results[i] = p.backendOffers(ctx, b, req)
		}(i, b)
	}
	wg.Wait()

	var offers []types.Offer
	for _, r := range results {
		offers = append(offers, r...)
	}

	// The aggregator may return offers outside the requested backends or
	// regions; the profile filter applies to the offer itself.
	if len(profile.Backends) > 0 {
		offers = lo.Filter(offers, func(o types.Offer, _ int) bool {
			return lo.Contains(profile.Backends, o.Backend)
		})
	}
	if len(profile.Regions) > 0 {
		offers = lo.Filter(offers, func(o types.Offer, _ int) bool {
			return containsFold(profile.Regions, o.Region)
		})
	}

	offers = lo.Filter(offers, func(o types.Offer, _ int) bool {
		return !p.unavailable.IsUnavailable(o)
	})

	if excludeNotAvailable {
		offers = lo.Filter(offers, func(o types.Offer, _ int) bool {
			return o.Availability.IsAvailable()
		})
	}

	if p.SortOffers != nil {
		p.SortOffers(offers)
	}
	return offers
}

// backendOffers returns one backend's offers for the requirements, served
// from cache when the same query ran recently.
func (p *Planner) backendOffers(ctx context.Context, b backend.Backend, req types.Requirements) []types.Offer {
	key, cacheable := offersKey(b.Type(), req)
	if cacheable {
		if cached, found := p.offers.Get(key); found {
			metrics.OffersCacheHits.Inc()
			return cached.([]types.Offer)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()

	offers, err := b.Compute().GetOffers(callCtx, req)
	if err != nil {
		p.logger.Warn().
			Str("backend", string(b.Type())).
			Err(err).
			Msg("backend offer query failed, excluding its offers")
		return nil
	}

	offers = lo.Filter(offers, func(o types.Offer, _ int) bool {
		return req.Matches(o)
	})

	if cacheable {
		p.offers.SetDefault(key, offers)
	}
	return offers
}

// MaxPrice returns the highest price across the offers, or nil for an
// empty list.
func MaxPrice(offers []types.Offer) *float64 {
	if len(offers) == 0 {
		return nil
	}
	max := offers[0].Price
	for _, o := range offers[1:] {
		if o.Price > max {
			max = o.Price
		}
	}
	return &max
}

func containsFold(haystack []string, needle string) bool {
	return lo.ContainsBy(haystack, func(s string) bool {
		return strings.EqualFold(s, needle)
	})
}
