// Package pebblestore wraps Pebble with the durability policy and helpers
// used by the ledger. It is the single storage substrate: every persistent
// map in deferd is a key range in this one keyspace, and multi-key state
// transitions commit through one atomic batch.
package pebblestore
