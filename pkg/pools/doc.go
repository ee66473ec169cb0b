/*
Package pools manages named instance pools inside projects.

A pool is a project-scoped collection of provisioned machines available
for reuse. Every project has at most one default pool; the first
reference to a project's pools creates it implicitly as "default-pool".
Pool creation and default changes are serialized per project, so
concurrent submissions racing to resolve the same pool observe exactly
one row.

	manager := pools.NewManager(store)
	pool, err := manager.GetOrCreatePool(projectID, "")

Deletion is soft: the pool row stays with its Deleted flag set and the
name becomes free for a fresh pool. Instances of a force-deleted pool
are marked TERMINATING; the reconciler performs the backend calls.

FilterInstances and Offers are the planning half: they narrow a pool's
instances to those matching a profile and requirements, and derive
offers from the instances' offer snapshots. An offer derived from an
idle instance reports IDLE availability, a placed one reports BUSY, and
both carry the instance id in PoolInstance so submission can reuse the
machine instead of provisioning a new one.
*/
package pools
