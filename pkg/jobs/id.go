package jobs

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewJobID returns "<unix millis>-<random suffix>". The millisecond prefix keeps
// ids roughly sortable by creation time, the suffix comes from a random UUID.
func NewJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix[:12]
}
