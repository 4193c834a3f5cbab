// Package mcroute routes cache operations across a fleet of backend shards.
//
// A request runs on a cooperative task (package fiber) that holds a reference
// to the current routing generation while it walks an immutable tree of route
// handles (package route). Leaves forward to one backend transport; combinators
// pick shards with a consistent hash (package furc), fall back from a warm tier
// to a cold one, fail over, or fan out. A config watcher (package config)
// rebuilds the tree when its source changes and the router (package router)
// publishes each build as a new generation with a single compare-and-swap.
//
// Components:
//   - Transport: one backend (memory, Redis, Ristretto, BigCache).
//   - Handle: route(request, op) -> reply. Immutable once built.
//   - Generation: one built tree plus its id. Retired on last release.
//   - Observer: polls a Source and applies new content.
//
// Backend failures never escape as Go errors; they come back as replies whose
// Result reports an error so failover and warm-up nodes can react to them.
package mcroute
