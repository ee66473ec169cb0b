package planner

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"

	"github.com/windrose-sh/windrose/pkg/log"
	"github.com/windrose-sh/windrose/pkg/types"
)

const (
	// UnavailableOfferingsTTL is how long a capacity shortage keeps an
	// offering out of planning results.
	UnavailableOfferingsTTL = 3 * time.Minute

	// offersTTL is how long raw per-backend offer lists are reused before
	// querying the backend again.
	offersTTL = time.Minute
)

// UnavailableOfferings stores offerings that recently failed to launch with
// a capacity shortage. Planning skips them as long as they are cached, so
// an instance-creation fallback does not retry a dry offer on every pass.
type UnavailableOfferings struct {
	// key: <backend>:<instanceType>:<region>, value: struct{}{}
	cache *cache.Cache
}

// NewUnavailableOfferings creates an empty cache with the default TTL.
func NewUnavailableOfferings() *UnavailableOfferings {
	return &UnavailableOfferings{
		cache: cache.New(UnavailableOfferingsTTL, UnavailableOfferingsTTL),
	}
}

// IsUnavailable returns true if the offering appears in the cache
func (u *UnavailableOfferings) IsUnavailable(o types.Offer) bool {
	_, found := u.cache.Get(u.key(o))
	return found
}

// MarkUnavailable records a recently observed capacity shortage for the
// offering. Marking an already-cached offering extends its TTL.
func (u *UnavailableOfferings) MarkUnavailable(reason string, o types.Offer) {
	log.Logger.Debug().
		Str("unavailable_reason", reason).
		Str("backend", string(o.Backend)).
		Str("instance_type", o.Instance.Name).
		Str("region", o.Region).
		Dur("ttl", UnavailableOfferingsTTL).
		Msg("marking offering unavailable")
	u.cache.SetDefault(u.key(o), struct{}{})
}

func (u *UnavailableOfferings) key(o types.Offer) string {
	return fmt.Sprintf("%s:%s:%s", o.Backend, o.Instance.Name, o.Region)
}

// offersKey builds the per-backend offers cache key from the requirements
// hash. A hashing failure disables caching for the call instead of failing
// the query.
func offersKey(backendType types.BackendType, req types.Requirements) (string, bool) {
	h, err := hashstructure.Hash(req, hashstructure.FormatV2, nil)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s:%d", backendType, h), true
}
