// Package store defines the persistence interfaces for jobs, tasks and
// error records. The durable store is the single source of truth and the
// only shared mutable resource; orchestrator, scheduler, health monitor
// and recovery controller all communicate through it.
package store
