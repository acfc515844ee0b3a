// Package localid generates and recognizes device-local identifiers.
//
// A local id has the form local_<kind>_<epochMillisUTC>_<random4digit>. It is
// a temporary primary key: once the corresponding create is delivered, the
// row is rekeyed to the canonical id assigned by the server.
package localid

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const prefix = "local_"

// lastMillis enforces monotonic local timestamps across callers so that
// same-millisecond writes within one process still order deterministically.
var lastMillis atomic.Int64

// Now returns the current UTC time in milliseconds, strictly increasing
// within the process.
func Now() int64 {
	for {
		now := time.Now().UTC().UnixMilli()
		last := lastMillis.Load()
		if now <= last {
			now = last + 1
		}
		if lastMillis.CompareAndSwap(last, now) {
			return now
		}
	}
}

// New generates a local id for the given entity kind.
func New(kind string) string {
	return fmt.Sprintf("%s%s_%d_%04d", prefix, kind, Now(), rand.N(10000))
}

// IsLocal reports whether the id is a device-local identifier.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, prefix)
}

// Kind extracts the entity kind from a local id, or "" if the id is not
// local or malformed.
func Kind(id string) string {
	if !IsLocal(id) {
		return ""
	}
	parts := strings.Split(strings.TrimPrefix(id, prefix), "_")
	if len(parts) != 3 {
		return ""
	}
	if _, err := strconv.ParseInt(parts[1], 10, 64); err != nil {
		return ""
	}
	return parts[0]
}

// IdempotencyKey mints a key sent with every delivery attempt of one queue
// item, so a retry after a lost ack is recognizable server-side.
func IdempotencyKey() string {
	return uuid.New().String()
}
