package leasing

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDs sort by creation time, so "ordered by id" is also "ordered by creation".
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + strings.ToLower(id.String())
}

func NewPropertyID() PropertyID { return PropertyID(newID("prop")) }
func NewTenantID() TenantID     { return TenantID(newID("ten")) }
func NewPaymentID() PaymentID   { return PaymentID(newID("pay")) }
