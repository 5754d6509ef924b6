// Package sinks implements progress consumers: structured logging,
// Prometheus collectors, and an in-memory run tracker read by the API.
package sinks
