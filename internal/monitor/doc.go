// Package monitor defines the shared domain types and collaborator interfaces
// of the storefront intelligence pipeline: traffic events observed in a
// browser session, the canonical records decoded from them, the request
// template replayed across targets, and the persistence and transport
// contracts the pipeline stages depend on.
package monitor
