package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string. Used as the primary id of persisted records;
// ULIDs sort by creation time, which keeps per-account listings ordered.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
