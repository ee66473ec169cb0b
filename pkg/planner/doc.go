/*
Package planner matches run requirements against backend capacity.

# Offer Queries

GetOffers fans a query out to every backend configured in the registry,
concurrently, and merges the results in registration order:

	p := planner.New(registry)
	offers := p.GetOffers(ctx, &spec.Profile, requirements, false)

A backend that errors is logged at warn level and contributes nothing;
planning never fails because one provider is down. Each backend call is
bounded by CallTimeout.

The profile narrows the query twice. Before the fan-out, backends not
named by profile.backends are skipped, except the aggregator
meta-backend, which brokers offers on behalf of concrete backends and
is always queried. After the fan-out, offers themselves are filtered by
backend and region, which is what makes the aggregator's brokered
results honor the profile.

# Caching

Two caches sit in front of the backends:

  - Raw per-backend offer lists are cached for a minute, keyed by a
    hash of the requirements. Reconcile passes that re-plan the same
    pending run do not hammer provider APIs.
  - Offerings that recently failed to launch with a capacity shortage
    are held in an UnavailableOfferings cache for three minutes, keyed
    by backend, instance type, and region. The instance-creation
    fallback marks entries; planning skips them, so the next pass tries
    different capacity instead of the same dry pool.

# Ordering

Offers keep the order their backend returned, concatenated in registry
order. Cross-backend ranking is left to the SortOffers hook.
*/
package planner
