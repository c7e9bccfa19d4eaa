// Package fingerprint derives the stable content hash used for ledger
// deduplication and idempotent re-confirmation.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Generate computes the dedup fingerprint for an entry. The user id is part
// of the input so fingerprints never collide across users.
//
// The amount is normalized to exactly two decimal places before hashing, so
// 50, 50.00 and 50.004 all hash identically. That fuzziness window is
// deliberate: near-identical amounts on the same day with the same remark and
// payee are treated as the same purchase. Absent remark/payee hash as empty
// strings, which keeps the function total over all inputs.
func Generate(userID int64, date string, amount float64, remark, payee string) string {
	amountStr := strconv.FormatFloat(amount, 'f', 2, 64)
	raw := fmt.Sprintf("%d|%s|%s|%s|%s", userID, date, amountStr, remark, payee)
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
