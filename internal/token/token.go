// Package token derives deterministic identifiers for deferred graph nodes.
//
// Node keys must be stable across planning runs: identical planning inputs
// must produce identical keys so that plans can be cached and merged. The
// parameters that define a node are MessagePack-encoded (a canonical,
// type-tagged byte form) and hashed with xxh3.
package token

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// Of returns a short hex token derived from parts.
// Equal part sequences always produce equal tokens.
func Of(parts ...any) (string, error) {
	data, err := msgpack.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode token material: %w", err)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data)), nil
}

// Key builds a graph node key of the form "prefix-token" from parts.
func Key(prefix string, parts ...any) (string, error) {
	tok, err := Of(parts...)
	if err != nil {
		return "", err
	}
	return prefix + "-" + tok, nil
}

// GroupKey encodes a tuple of grouping-column values into a byte string
// usable as a map key. Equal value tuples encode identically; the encoding
// is type-tagged, so int64(1) and "1" never collide.
func GroupKey(values []any) (string, error) {
	data, err := msgpack.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode group key: %w", err)
	}
	return string(data), nil
}
