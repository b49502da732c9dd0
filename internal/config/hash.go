package config

import (
	"encoding/json"
	"hash/fnv"
)

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes a value through a marshal round trip so key order
// and whitespace differences don't register as changes.
func canonicalHashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Signature is a stable content hash of one job declaration. The daemon uses
// it to decide whether a reloaded declaration needs a reschedule.
func (j JobConfig) Signature() uint64 { return canonicalHashJSON(j) }
