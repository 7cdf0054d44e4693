package spawn

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// newCorrelationID returns role prefix + base32 nanosecond clock + random hex.
// The prefix only makes ids readable in logs.
func newCorrelationID(r Role) string {
	u := uuid.New()
	return r.idPrefix() + strconv.FormatInt(time.Now().UnixNano(), 32) + hex.EncodeToString(u[:8])
}
