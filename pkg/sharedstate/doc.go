// Package sharedstate provides the key-value store shared by every flowgate
// process. Circuit breaker records, sliding rate windows and cached quota
// snapshots live here.
//
// Two implementations satisfy Store:
//
//   - MemoryStore: striped in-process maps, for single-process deployments and tests
//   - RedisStore: go-redis backed, for multi-instance deployments
//
// Every mutation is atomic per key. Callers never need cross-key locking.
package sharedstate
