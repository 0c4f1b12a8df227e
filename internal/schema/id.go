package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewLocalID generates a client-side identifier for a record that has not
// yet been confirmed by the remote store. The format is
// {prefix}-{unixmilli}-{uuid8}, which sorts roughly by creation time and
// is recognizable as local by IsLocalID.
func NewLocalID(t Table) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", t.LocalIDPrefix(), time.Now().UnixMilli(), suffix)
}

// IsLocalID reports whether id looks like a client-generated local ID
// rather than a server ID or remote URL.
func IsLocalID(id string) bool {
	if id == "" {
		return false
	}
	for _, t := range Tables() {
		if strings.HasPrefix(id, t.LocalIDPrefix()+"-") {
			return true
		}
	}
	return false
}
