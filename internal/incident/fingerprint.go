package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint computes the 64-hex dedup key: SHA-256 of
// "event_name:resource_type:resource_id:region" (spec §3). It is
// deterministic for identical inputs, independent of surrounding whitespace
// or JSON key order since none of those ever enter the hashed string.
func Fingerprint(eventName, resourceType, resourceID, region string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", eventName, resourceType, resourceID, region)))
	return hex.EncodeToString(sum[:])
}
