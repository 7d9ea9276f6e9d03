package submission

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator returns a new application id.
type IDGenerator func() string

// NewApplicationID is "APP-<unix millis>-<8 hex>": sortable by time, unique by the random suffix.
func NewApplicationID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("APP-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}
