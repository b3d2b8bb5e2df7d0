// Package audit records an immutable trail of who did what, to which
// resource, in which tenant, and with what outcome.
//
// # Event model
//
// Event is a flat record: actor, roles, tenant, resource, request context,
// outcome, optional metadata and before/after change details. Events are
// never updated; a correction is a new event. NewEvent and NewRequestEvent
// pull the actor, tenant, and request id out of the context, so call sites
// only fill in what is specific to the operation:
//
//	event := audit.NewRequestEvent(ctx, r, audit.EventTypeUserUpdate, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeUser
//	event.ResourceID = user.ID
//	event.Changes = &audit.ChangeDetails{Before: before, After: after}
//	emitter.Emit(ctx, event)
//
// # Write policy
//
// Emitter is the single write path. It detaches from the request context
// before writing, so a cancelled request produces either a complete event
// or none, and it swallows backend errors after logging and counting them:
// an audit failure never changes the outcome of the operation it records.
//
// # Backends
//
// DBLogger writes to PostgreSQL and backs the query store. FileLogger
// appends newline-delimited JSON with size-based rotation. MultiLogger
// fans out to several backends, asynchronously by default. All of them
// implement Logger; NopLogger discards events for deployments without
// auditing.
//
// # Query, export, retention
//
// Store searches, retrieves, aggregates, and exports the trail. Handlers
// expose it over HTTP, pinned to the caller's tenant unless the caller is
// a super admin. Retainer applies a RetentionPolicy: expiring events are
// archived to object storage first (Archiver, NDJSON batches on S3), then
// pruned, and the sweep leaves audit.archive and audit.purge events
// behind.
//
// # Related packages
//
//   - pkg/authz: the access pipeline emits decision and security events
//   - pkg/middleware: installs the context-stamping Middleware
//   - pkg/contextkeys: the keys the event constructors read
package audit
