// Package gate implements the rate-limit gate that keeps crawler workers
// under one upstream quota.
//
// A worker that sees a throttling response calls Trip, which starts a random
// cooldown between the configured minimum and maximum. Every worker calls
// AwaitClear before each upstream request. Whether workers share a gate is a
// deployment choice expressed through Set.
package gate
