// Package storage opens the connections keystone persists to.
//
// OpenDatabase returns a pool for postgres (github.com/lib/pq) or sqlite
// (github.com/mattn/go-sqlite3) together with its identity.Dialect, and can
// apply the schema at startup. NewRedisClient builds the go-redis client
// shared by the Redis session store and the Redis-backed rate limiters.
//
// Configuration:
//
//	KEYSTONE_DB_DRIVER="postgres"  # postgres, sqlite3
//	KEYSTONE_DATABASE_URL="postgres://localhost/keystone?sslmode=disable"
//	KEYSTONE_DB_MAX_CONNS="20"
//	KEYSTONE_REDIS_URL="redis://localhost:6379"
package storage
