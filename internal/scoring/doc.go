// Package scoring converts noisy textual metrics into stable rankings: growth
// text parsed into a (tier, value) key, a weighted composite score over
// normalized metrics, and a read-time deduplicating top-N.
package scoring
