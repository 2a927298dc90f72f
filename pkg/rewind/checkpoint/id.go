package checkpoint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^cp-(\d{1,19})-([0-9a-f]{8})$`)

// NewID returns an id of the form cp-<epoch-millis>-<8-hex-random>.
func NewID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("cp-%d-%s", now.UnixMilli(), random)
}

// ValidID reports whether id has the checkpoint id format.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ParseIDTime recovers the creation time encoded in id.
func ParseIDTime(id string) (time.Time, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: malformed id %q", ErrInvalidMetadata, id)
	}
	millis, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: id timestamp: %v", ErrInvalidMetadata, err)
	}
	return time.UnixMilli(millis).UTC(), nil
}
