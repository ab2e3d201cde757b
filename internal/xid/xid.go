package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// ArchiveID builds the archive partition id for one reset. It is derived
// from immutable shift fields only, so every attempt to reset the same shift
// targets the same partition and retries cannot fork a second one.
func ArchiveID(shiftID string, startedAt time.Time) string {
	return fmt.Sprintf("shift_%s_%d", shiftID, startedAt.UnixMilli())
}
