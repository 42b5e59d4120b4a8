// Package api exposes the AgentHub REST surface: asynchronous task
// submission and lookup, synchronous orchestrated runs, batch runs with
// result aggregation, pool and tool introspection, and Prometheus metrics.
package api
