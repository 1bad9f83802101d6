// Package hash provides the read-name keying used by the slice mate-pairing
// index.
package hash

import "github.com/cespare/xxhash/v2"

// NameKey computes the xxHash64 of a read name. Slices index pending mate
// pairs by this key instead of retaining the name bytes.
func NameKey(name []byte) uint64 {
	return xxhash.Sum64(name)
}
