// Package server provides HTTP routing, middleware and the read-only status endpoint.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Status Endpoint
//
// [StatusHandler] serves two routes while `run` or `retry` is active:
//   - /healthz : liveness, always {"status":"ok"}
//   - /stats : the live orchestrator [tasks.Snapshot], the latest [tasks.SweepResult] and
//     record counts per status
//
// [Serve] runs the server until its context is cancelled and then shuts it down gracefully.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
