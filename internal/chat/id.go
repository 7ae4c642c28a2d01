package chat

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalIDPrefix marks identifiers generated on this client. Server ids never carry it.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh synthetic message id. Timestamps outside the
// ULID range (before 1970 or zero) fall back to the current time.
func NewLocalID(at time.Time) string {
	id, err := ulid.New(ulid.Timestamp(at), ulid.DefaultEntropy())
	if err != nil {
		id = ulid.MustNew(ulid.Now(), ulid.DefaultEntropy())
	}
	return LocalIDPrefix + id.String()
}

// IsLocalID reports whether id belongs to the local namespace.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
