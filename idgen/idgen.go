// Package idgen provides ID generation for gecwatch entities.
//
// Every stored row gets a UUIDv7-based ID with a type prefix
// ("src_", "txn_", "log_", "ntf_"), making the entity kind readable
// from logs and the strategy swappable in tests.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so DB inserts stay roughly append-ordered.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the module default: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}

// Entity-scoped generators used by the store and pipeline.
var (
	Source       = Prefixed("src_", Default)
	Transaction  = Prefixed("txn_", Default)
	RunLog       = Prefixed("log_", Default)
	Notification = Prefixed("ntf_", Default)
)
