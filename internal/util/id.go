package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID returns a random identifier such as "ses_3f2a...". The random part
// is the 32 hex digits of a version 4 UUID.
func NewID(prefix string) string {
	id := uuid.New()
	if prefix == "" {
		return hex.EncodeToString(id[:])
	}
	return prefix + "_" + hex.EncodeToString(id[:])
}
