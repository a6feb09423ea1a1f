package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "shift-3f2a...".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
