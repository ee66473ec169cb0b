package pools

import (
	"strings"

	"github.com/samber/lo"

	"github.com/windrose-sh/windrose/pkg/types"
)

// FilterInstances returns the pool instances able to host a job with the
// given constraints. Terminating and finished instances are always
// excluded, as are instances without an offer snapshot (still pending).
// Pass statuses to narrow further, e.g. only IDLE for placement.
func FilterInstances(instances []*types.Instance, profile *types.Profile, req types.Requirements, statuses ...types.InstanceStatus) []*types.Instance {
	return lo.Filter(instances, func(instance *types.Instance, _ int) bool {
		if instance.Status == types.InstanceStatusTerminating || instance.Status.IsFinished() {
			return false
		}
		if len(statuses) > 0 && !lo.Contains(statuses, instance.Status) {
			return false
		}
		if instance.Offer == nil {
			return false
		}

		offer := *instance.Offer
		if len(profile.Backends) > 0 && !lo.Contains(profile.Backends, offer.Backend) {
			return false
		}
		if len(profile.Regions) > 0 && !lo.ContainsBy(profile.Regions, func(r string) bool {
			return strings.EqualFold(r, offer.Region)
		}) {
			return false
		}
		return req.Matches(offer)
	})
}

// Offers derives plan offers from pool instances. Availability reports the
// reuse state, IDLE when the instance is free and BUSY otherwise, and
// PoolInstance links the offer back to the instance it would reuse.
func Offers(instances []*types.Instance, profile *types.Profile, req types.Requirements) []types.Offer {
	usable := FilterInstances(instances, profile, req)

	offers := make([]types.Offer, 0, len(usable))
	for _, instance := range usable {
		offer := *instance.Offer
		if instance.Status == types.InstanceStatusIdle {
			offer.Availability = types.InstanceAvailabilityIdle
		} else {
			offer.Availability = types.InstanceAvailabilityBusy
		}
		offer.PoolInstance = instance.ID
		offers = append(offers, offer)
	}
	return offers
}
