// Package history keeps the last N password hashes per user so a new
// password can be rejected when it matches any of them.
//
// Storage is pluggable: [MemoryStore], [RedisStore], or any [Store] such as
// the SQLite store in store/sqlite.
package history
