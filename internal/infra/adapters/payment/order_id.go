// File: internal/infra/adapters/payment/order_id.go
package payment

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// maxOrderIDLen is the tighter of the two providers' out_trade_no limits.
const maxOrderIDLen = 32

// NewExternalOrderID returns prefix + unix millis + a random ULID tail, e.g. CN1718000000000K3Q9...
// The result is uppercase alphanumeric and at most 32 characters.
func NewExternalOrderID(prefix string, now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	// the ULID's first 10 chars repeat the timestamp; keep only the entropy.
	tail := id.String()[10:]
	out := strings.ToUpper(prefix) + strconv.FormatInt(now.UnixMilli(), 10) + tail
	if len(out) > maxOrderIDLen {
		out = out[:maxOrderIDLen]
	}
	return out
}
