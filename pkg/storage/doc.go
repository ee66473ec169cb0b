/*
Package storage provides BoltDB-backed state persistence for Windrose's
orchestration data.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for projects, users, repos,
pools, instances, runs and jobs. All data is serialized as JSON and stored
in separate buckets.

# Architecture

	┌─────────────────── BOLTDB STORAGE ────────────────────┐
	│                                                         │
	│  BoltStore                                              │
	│  - File: <dataDir>/windrose.db                          │
	│  - View: read-only transaction over typed Tx           │
	│  - Update: writable transaction, commit on nil          │
	│                                                         │
	│  Buckets (key = entity UUID, value = JSON row)          │
	│    projects  users  repos  pools                        │
	│    instances runs   jobs                                │
	└─────────────────────────────────────────────────────────┘

Unlike a per-call CRUD store, every operation runs inside an explicit
transaction handed to the caller's function. Submitting a run writes the
run row and all of its job rows in one Update; if anything fails the
transaction rolls back and no partial run is ever visible.

# Row Lifecycle

Rows are not physically deleted. Runs carry a Deleted flag that frees
their name for reuse; instances advance to the TERMINATED status; pools
carry a Deleted flag once drained. History therefore survives for cost
accounting and inspection.

# Schema Drift

List operations skip rows that no longer decode, logging them at debug
level. A single stale row written by an older build must not take down
every listing that touches its bucket.

# Usage

	store, err := storage.NewBoltStore("/var/lib/windrose")
	if err != nil {
	    return err
	}
	defer store.Close()

	err = store.Update(func(tx storage.Tx) error {
	    if err := tx.CreateRun(run); err != nil {
	        return err
	    }
	    for _, job := range jobs {
	        if err := tx.CreateJob(job); err != nil {
	            return err
	        }
	    }
	    return nil // commit
	})
*/
package storage
