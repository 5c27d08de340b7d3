// Package providers defines the metadata/asset provider contract and the
// fetch layer that fans out to providers concurrently. Each provider call is
// guarded by a circuit breaker and a reactive rate limiter that only engages
// after an HTTP 429.
package providers
