// Package redisserver serves a small RESP2 subset over TCP.
//
// It exists so operators and Redis clients can drive persistence the way
// they would against Redis: SAVE, BGSAVE, DEBUG LOAD, INFO persistence and
// CONFIG GET/SET for the snapshot schedule and file name. A handful of
// data commands (strings, hashes, sets, lists, TTLs) make the keyspace
// reachable for seeding and inspection.
//
// While a snapshot is loading, data commands reply with a LOADING error;
// PING, INFO, CONFIG and SELECT keep working.
package redisserver
