// Package redis builds the shared go-redis client used by the plan cache,
// the conversation memory store and the Redis task queue.
package redis
