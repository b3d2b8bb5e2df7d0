// Package api assembles the HTTP server: the middleware chain, the route
// table with its access descriptors, and the admin surface for probes and
// metrics.
//
// # Assembly
//
// NewServer wires every layer from configuration and a handful of
// injectable dependencies:
//
//	cfg, err := config.LoadConfig()
//	srv, err := api.NewServer(cfg, api.Dependencies{DB: db, Redis: rdb})
//	http.ListenAndServe(addr, srv)
//
// The server itself is an http.Handler. AdminHandler returns a second
// handler carrying /healthz, /readyz, and /metrics, meant for a separate
// listener so probes and scrapes never compete with tenant traffic.
//
// # Route descriptors
//
// Every route is registered twice: once on the mux router under a stable
// name, and once in the authz registry under the same name with its
// access requirements. The access middleware joins the two at request
// time through the matched route's name. A route missing from the
// registry evaluates against the zero descriptor, which requires a
// principal and a tenant, so forgetting a descriptor locks a route rather
// than opening it.
//
// Handler packages own their slice of the table through RegisterRoutes;
// the audit trail's descriptors are declared here because pkg/audit sits
// below the access pipeline and cannot import it.
//
// # Middleware chain
//
// Outermost first: request id, metrics, request logging, audit context,
// tenant resolution, authentication, access. See pkg/middleware for why
// the order is load-bearing.
package api
